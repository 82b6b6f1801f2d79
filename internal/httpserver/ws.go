package httpserver

import (
	"bytes"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/layercodedev/sled/internal/acp"
	"github.com/layercodedev/sled/internal/chat"
	"github.com/layercodedev/sled/internal/speech"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// clientCommand is one inbound message from the browser client.
type clientCommand struct {
	Type      string `json:"type"` // "message", "cancel", "set_mode", "permission"
	Text      string `json:"text,omitempty"`
	ModeID    string `json:"modeId,omitempty"`
	RequestID int64  `json:"requestId,omitempty"`
	OptionID  string `json:"optionId,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// clientEvent is one outbound JSON message to the browser client. Synthesized
// audio travels separately as binary frames.
type clientEvent struct {
	Type       string           `json:"type"` // "snippet", "clear", "working", "permission"
	ID         string           `json:"id,omitempty"`
	Role       string           `json:"role,omitempty"`
	Content    string           `json:"content,omitempty"`
	Working    bool             `json:"working"`
	Permission *permissionEvent `json:"permission,omitempty"`
}

type permissionEvent struct {
	RequestID int64                  `json:"requestId"`
	Options   []acp.PermissionOption `json:"options"`
	ToolCall  acp.PermissionToolCall `json:"toolCall"`
}

// clientConn serializes writes to the browser socket.
type clientConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *clientConn) sendJSON(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		log.Printf("client write error: %v", err)
	}
}

func (c *clientConn) sendBinary(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		log.Printf("client audio write error: %v", err)
	}
}

// wsRenderer forwards chat snippets to the browser client.
type wsRenderer struct{ c *clientConn }

func (r *wsRenderer) ShowMessage(id, role, content string) {
	r.c.sendJSON(clientEvent{Type: "snippet", ID: id, Role: role, Content: content})
}

func (r *wsRenderer) ClearMessage(id string) {
	r.c.sendJSON(clientEvent{Type: "clear", ID: id})
}

func (r *wsRenderer) SetWorking(working bool) {
	r.c.sendJSON(clientEvent{Type: "working", Working: working})
}

type wsPrompter struct{ c *clientConn }

func (p *wsPrompter) PromptPermission(req acp.PermissionRequest) {
	p.c.sendJSON(clientEvent{Type: "permission", Permission: &permissionEvent{
		RequestID: req.RequestID,
		Options:   req.Options,
		ToolCall:  req.ToolCall,
	}})
}

// logStore keeps the conversation record in the server log. Durable storage
// sits behind the same interface when it is needed.
type logStore struct{}

func (logStore) SaveMessage(role, content string) error {
	log.Printf("message [%s]: %.120s", role, content)
	return nil
}

func (logStore) SaveToolCall(tc chat.ToolCall) error {
	log.Printf("tool call %s [%s]: %s", tc.ToolCallID, tc.Status, tc.Title)
	return nil
}

func (logStore) SaveSessionID(sessionID string) error {
	log.Printf("resumable session id: %s", sessionID)
	return nil
}

// handleChat runs one full conversation: the browser on one socket, the agent
// on another, and a chat session in between.
func (s *Server) handleChat(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	connID := uuid.NewString()[:8]
	log.Printf("[%s] chat connected from %s", connID, c.RealIP())

	agent, _, err := websocket.DefaultDialer.Dial(s.cfg.AgentWSURL, nil)
	if err != nil {
		log.Printf("[%s] agent dial error: %v", connID, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "agent unavailable"),
			time.Now().Add(time.Second))
		return nil
	}
	defer func() { _ = agent.Close() }()

	client := &clientConn{ws: conn}

	var agentMu sync.Mutex
	send := func(payload string) error {
		agentMu.Lock()
		defer agentMu.Unlock()
		return agent.WriteMessage(websocket.TextMessage, []byte(payload))
	}

	var emitter chat.SpeechEmitter
	if s.cfg.DeepgramKey != "" {
		emitter = speech.NewEmitter(s.cfg.DeepgramKey, s.cfg.DeepgramTTSModel, client.sendBinary)
	}

	sess := chat.New(chat.Config{
		AgentType:       s.cfg.AgentType,
		PermissionMode:  s.cfg.PermissionMode,
		Cwd:             s.cfg.SessionCwd,
		ResumeSessionID: s.cfg.ResumeSessionID,
		Send:            send,
		Renderer:        &wsRenderer{c: client},
		Store:           logStore{},
		Speech:          emitter,
		Permissions:     &wsPrompter{c: client},
	})

	// Pump agent frames into the protocol; a frame may batch several lines.
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		for {
			_, data, err := agent.ReadMessage()
			if err != nil {
				return
			}
			for _, line := range bytes.Split(data, []byte("\n")) {
				sess.HandleAgentLine(line)
			}
		}
	}()

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			break
		}
		switch cmd.Type {
		case "message":
			sess.HandleUserMessage(cmd.Text)
		case "cancel":
			sess.CancelPrompt()
		case "set_mode":
			sess.SetMode(cmd.ModeID)
		case "permission":
			if cmd.Cancelled {
				sess.RespondPermission(cmd.RequestID, acp.OutcomeCancelled())
			} else {
				sess.RespondPermission(cmd.RequestID, acp.OutcomeSelected(cmd.OptionID))
			}
		default:
			log.Printf("[%s] unknown client command: %q", connID, cmd.Type)
		}
	}

	log.Printf("[%s] chat disconnected", connID)
	sess.HandleDisconnect()
	_ = agent.Close()
	<-agentDone
	return nil
}
