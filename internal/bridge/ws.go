package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// WSEndpoint adapts a gorilla websocket connection to the Endpoint interface.
// Writes are serialized internally; gorilla connections do not allow
// concurrent writers.
type WSEndpoint struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSEndpoint wraps an established websocket connection.
func NewWSEndpoint(conn *websocket.Conn) *WSEndpoint {
	return &WSEndpoint{conn: conn}
}

// ReadMessage blocks for the next data frame, reporting its type. A clean
// websocket close surfaces as *CloseError carrying the peer's code and reason.
func (w *WSEndpoint) ReadMessage() (int, []byte, error) {
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return 0, nil, err
	}
	return msgType, data, nil
}

// Send forwards one message, keeping the frame type it arrived with.
func (w *WSEndpoint) Send(msgType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(msgType, data)
}

// Close sends a close control frame with the given code and reason, then
// tears the underlying connection down.
func (w *WSEndpoint) Close(code int, reason string) error {
	w.mu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteWait))
	w.mu.Unlock()
	return w.conn.Close()
}
