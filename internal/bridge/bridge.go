// Package bridge joins two socket-like endpoints into a bidirectional relay,
// forwarding messages, closes and errors symmetrically. It is used when a
// connection is proxied raw instead of being decoded as protocol traffic.
package bridge

import (
	"errors"
	"fmt"
	"sync"
)

// StatusInternalError is the close code used when the relay tears down
// because of a read error or a failed forward, matching websocket status 1011.
const StatusInternalError = 1011

// Message types carried through an Endpoint, matching the RFC 6455 data
// frame opcodes (and gorilla's constants of the same names).
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// CloseError signals a clean close of an endpoint, carrying the peer's own
// close code and reason so they can be mirrored to the other side.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// Endpoint is one side of the relay. ReadMessage blocks until a message
// arrives and returns *CloseError when the peer closes cleanly. Send and
// Close must be safe to call from a goroutine other than the reader's.
type Endpoint interface {
	ReadMessage() (msgType int, data []byte, err error)
	Send(msgType int, data []byte) error
	Close(code int, reason string) error
}

// Transform rewrites a relayed payload. Returning no outputs drops the
// message; returning several fans it out into multiple sends. A nil Transform
// forwards messages untouched. The message type is preserved either way.
type Transform func(data []byte) [][]byte

// Options carries the optional per-direction transforms.
type Options struct {
	AToB Transform
	BToA Transform
}

// Link is the handle for a running relay. It settles exactly once, after both
// endpoints are closed, no matter which side triggered the teardown.
type Link struct {
	a, b Endpoint

	once sync.Once
	done chan struct{}
	err  error
}

// Join wires a and b together and starts relaying. The relay runs until
// either side closes or fails.
func Join(a, b Endpoint, opts Options) *Link {
	l := &Link{a: a, b: b, done: make(chan struct{})}
	go l.pump(a, b, opts.AToB)
	go l.pump(b, a, opts.BToA)
	return l
}

// Done is closed after teardown completes.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err reports why the relay ended: nil for a clean close on either side, the
// triggering error otherwise. Valid after Done is closed.
func (l *Link) Err() error {
	<-l.done
	return l.err
}

// pump relays src to dst until src stops producing or dst stops accepting.
func (l *Link) pump(src, dst Endpoint, tr Transform) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) {
				// Mirror the peer's own code and reason to the other side.
				l.finish(nil, ce.Code, ce.Reason)
			} else {
				l.finish(err, StatusInternalError, "relay read failure")
			}
			return
		}
		outs := [][]byte{msg}
		if tr != nil {
			outs = tr(msg)
		}
		for _, out := range outs {
			if err := dst.Send(msgType, out); err != nil {
				l.finish(err, StatusInternalError, "relay send failure")
				return
			}
		}
	}
}

// finish closes both endpoints and settles the link. Concurrent triggers
// collapse into the first one; later calls are no-ops.
func (l *Link) finish(err error, code int, reason string) {
	l.once.Do(func() {
		l.err = err
		_ = l.a.Close(code, reason)
		_ = l.b.Close(code, reason)
		close(l.done)
	})
}
