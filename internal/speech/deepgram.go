// Package speech synthesizes completed sentences into PCM audio via the
// Deepgram speak websocket API.
package speech

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// Sink receives synthesized PCM frames in arrival order.
type Sink func(pcm []byte)

// Emitter turns one sentence at a time into linear16 PCM. Sentences arrive
// already segmented, so each call is a single short synthesis round-trip.
type Emitter struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	timeout    time.Duration
	sink       Sink
}

// NewEmitter builds an Emitter delivering audio to sink.
func NewEmitter(apiKey, model string, sink Sink) *Emitter {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Emitter{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		timeout:    12 * time.Second,
		sink:       sink,
	}
}

// EmitSentence synthesizes one sentence and blocks until its audio has been
// fully delivered to the sink, so back-to-back sentences play in order.
func (e *Emitter) EmitSentence(text string) error {
	if text == "" {
		return nil
	}
	if e.apiKey == "" {
		return fmt.Errorf("deepgram: API key missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	options := &clientinterfaces.WSSpeakOptions{
		Model:      e.model,
		Encoding:   e.encoding,
		SampleRate: e.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		if e.sink != nil {
			b := make([]byte, len(data))
			copy(b, data)
			e.sink(b)
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, e.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// The speak socket has no end-of-audio event; treat a quiet gap after the
	// first audio frame as completion.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					return nil
				}
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
