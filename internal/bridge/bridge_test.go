package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type closeCall struct {
	code   int
	reason string
}

type frame struct {
	msgType int
	data    []byte
}

func textFrame(s string) frame { return frame{TextMessage, []byte(s)} }

// fakeEndpoint feeds scripted frames and errors to ReadMessage and records
// everything sent or closed.
type fakeEndpoint struct {
	in     chan any // frame values or errors, in delivery order
	closed chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
	sent      []frame
	closes    []closeCall
	sendErr   error
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{in: make(chan any, 16), closed: make(chan struct{})}
}

func (f *fakeEndpoint) ReadMessage() (int, []byte, error) {
	select {
	case v := <-f.in:
		switch x := v.(type) {
		case frame:
			return x.msgType, x.data, nil
		case error:
			return 0, nil, x
		}
		return 0, nil, errors.New("bad fixture")
	case <-f.closed:
		return 0, nil, &CloseError{Code: 1006, Reason: "local close"}
	}
}

func (f *fakeEndpoint) Send(msgType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame{msgType, append([]byte(nil), data...)})
	return nil
}

func (f *fakeEndpoint) Close(code int, reason string) error {
	f.mu.Lock()
	f.closes = append(f.closes, closeCall{code, reason})
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeEndpoint) sentCopy() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.sent...)
}

func (f *fakeEndpoint) firstClose(t *testing.T) closeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closes) == 0 {
		t.Fatalf("endpoint was never closed")
	}
	return f.closes[0]
}

func waitDone(t *testing.T, l *Link) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("bridge did not resolve")
	}
}

func waitSent(t *testing.T, f *fakeEndpoint, n int) []frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := f.sentCopy(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %d", n, len(f.sentCopy()))
	return nil
}

func TestJoin_ForwardsBothDirections(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{})

	a.in <- textFrame("from a")
	b.in <- textFrame("from b")
	if got := waitSent(t, b, 1); string(got[0].data) != "from a" {
		t.Fatalf("b received %q", got[0].data)
	}
	if got := waitSent(t, a, 1); string(got[0].data) != "from b" {
		t.Fatalf("a received %q", got[0].data)
	}

	a.in <- error(&CloseError{Code: 1000, Reason: "bye"})
	waitDone(t, l)
	if err := l.Err(); err != nil {
		t.Fatalf("clean close must not report an error, got %v", err)
	}
}

func TestJoin_PreservesMessageType(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{})

	a.in <- frame{BinaryMessage, []byte{0x01, 0x02}}
	a.in <- textFrame("hello")
	got := waitSent(t, b, 2)
	if got[0].msgType != BinaryMessage {
		t.Fatalf("binary frame re-typed to %d", got[0].msgType)
	}
	if got[1].msgType != TextMessage {
		t.Fatalf("text frame re-typed to %d", got[1].msgType)
	}

	a.in <- error(&CloseError{Code: 1000, Reason: ""})
	waitDone(t, l)
}

func TestJoin_CloseCodeMirrored(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{})

	a.in <- error(&CloseError{Code: 1000, Reason: "done"})
	waitDone(t, l)

	if got := b.firstClose(t); got.code != 1000 || got.reason != "done" {
		t.Fatalf("b must see a's code and reason, got %+v", got)
	}
}

func TestJoin_ReadErrorClosesWith1011(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{})

	a.in <- error(errors.New("connection reset"))
	waitDone(t, l)

	if err := l.Err(); err == nil {
		t.Fatalf("expected the read error to surface")
	}
	if got := b.firstClose(t); got.code != StatusInternalError {
		t.Fatalf("expected close 1011, got %+v", got)
	}
	if got := a.firstClose(t); got.code != StatusInternalError {
		t.Fatalf("the failing side must be closed too, got %+v", got)
	}
}

func TestJoin_SendFailureTearsDown(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	b.mu.Lock()
	b.sendErr = errors.New("send refused")
	b.mu.Unlock()
	l := Join(a, b, Options{})

	a.in <- textFrame("doomed")
	waitDone(t, l)

	if err := l.Err(); err == nil {
		t.Fatalf("expected the send error to surface")
	}
	if got := a.firstClose(t); got.code != StatusInternalError {
		t.Fatalf("expected close 1011, got %+v", got)
	}
}

func TestJoin_ResolvesOnceUnderConcurrentClose(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{})

	// Both sides close in the same instant; Done must settle exactly once
	// without panicking on a double close.
	a.in <- error(&CloseError{Code: 1000, Reason: "a first"})
	b.in <- error(&CloseError{Code: 1001, Reason: "b first"})
	waitDone(t, l)
	_ = l.Err()

	a.firstClose(t)
	b.firstClose(t)
}

func TestJoin_TransformDropAndFanOut(t *testing.T) {
	a, b := newFakeEndpoint(), newFakeEndpoint()
	l := Join(a, b, Options{
		AToB: func(data []byte) [][]byte {
			if string(data) == "drop me" {
				return nil
			}
			return [][]byte{data, []byte("echo:" + string(data))}
		},
	})

	a.in <- textFrame("drop me")
	a.in <- textFrame("keep")
	got := waitSent(t, b, 2)
	if string(got[0].data) != "keep" || string(got[1].data) != "echo:keep" {
		t.Fatalf("fan-out mismatch: %q %q", got[0].data, got[1].data)
	}

	a.in <- error(&CloseError{Code: 1000, Reason: ""})
	waitDone(t, l)
	if got := b.sentCopy(); len(got) != 2 {
		t.Fatalf("dropped message leaked: %d sends", len(got))
	}
}
