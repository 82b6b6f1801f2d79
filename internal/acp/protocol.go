package acp

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Callbacks receives typed protocol events. Every field is optional; nil
// callbacks are skipped. Callbacks are invoked synchronously, in inbound
// message order, and never while the session lock is held, so a callback may
// call back into the Session.
type Callbacks struct {
	OnRequestDispatched      func(method, requestID string)
	OnResponseReceived       func(requestID string)
	OnInitializeError        func(err error)
	OnSessionReady           func(sessionID string)
	OnSessionError           func(err error)
	OnAuthenticationRequired func(method AuthMethod)
	OnPromptQueued           func(p PendingPrompt)
	OnPromptSent             func(p PendingPrompt)
	OnPromptResult           func(requestID string, result PromptResult, meta any)
	OnPromptError            func(requestID string, err error, meta any, raw []byte)
	OnSessionUpdate          func(sessionID string, update SessionUpdate)
	OnPermissionRequest      func(req PermissionRequest)
}

// Options configures a Session. Send delivers one newline-terminated JSON
// payload upstream and reports transport failure via its error; it must not
// block on the reply.
type Options struct {
	Send            func(payload string) error
	NewID           func() string // defaults to uuid suffixes
	PermissionMode  string
	Cwd             string
	ResumeSessionID string
	Callbacks       Callbacks
}

// Session drives the ACP handshake and correlates requests with responses.
// One Session serves one logical agent connection; it holds no shared state
// with other instances.
type Session struct {
	send  func(string) error
	newID func() string
	cb    Callbacks

	permissionMode  string
	cwd             string
	resumeSessionID string

	mu        sync.Mutex
	started   bool
	initDone  bool
	sessionID string
	initID    string
	authID    string
	newSessID string
	queued    []PendingPrompt
	pending   map[string]PendingPrompt
}

// NewSession builds a Session. Options.Send is required.
func NewSession(opts Options) *Session {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Session{
		send:            opts.Send,
		newID:           newID,
		cb:              opts.Callbacks,
		permissionMode:  opts.PermissionMode,
		cwd:             opts.Cwd,
		resumeSessionID: opts.ResumeSessionID,
		pending:         make(map[string]PendingPrompt),
	}
}

// Start kicks off the handshake. It is idempotent; only the first call
// dispatches initialize.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	id := "init-" + s.newID()
	s.initID = id
	s.mu.Unlock()

	// Capabilities stay empty on purpose: the agent is expected to use its
	// own native file-access tooling, not client-provided capabilities.
	err := s.writeRequest(id, MethodInitialize, map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{},
	})
	if err != nil {
		s.emitInitializeError(err)
	}
}

// SendPrompt submits one user prompt. Before the session is ready the prompt
// queues (FIFO) and the handshake starts if needed; once ready it dispatches
// immediately. Returns the allocated request id, or "" for empty input.
func (s *Session) SendPrompt(text string, meta any) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	id := "prompt-" + s.newID()
	p := PendingPrompt{RequestID: id, Text: text, Meta: meta}

	s.mu.Lock()
	ready := s.initDone && s.sessionID != ""
	if !ready {
		s.queued = append(s.queued, p)
		s.mu.Unlock()
		if s.cb.OnPromptQueued != nil {
			s.cb.OnPromptQueued(p)
		}
		s.Start()
		return id
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	s.dispatchPrompt(sessionID, p)
	return id
}

// dispatchPrompt sends session/prompt and registers the prompt for response
// correlation. A failed send leaves the prompt unregistered and surfaces the
// error synchronously.
func (s *Session) dispatchPrompt(sessionID string, p PendingPrompt) {
	err := s.writeRequest(p.RequestID, MethodSessionPrompt, map[string]any{
		"sessionId": sessionID,
		"prompt":    []map[string]any{{"type": "text", "text": p.Text}},
	})
	if err != nil {
		if s.cb.OnPromptError != nil {
			s.cb.OnPromptError(p.RequestID, err, p.Meta, nil)
		}
		return
	}
	s.mu.Lock()
	s.pending[p.RequestID] = p
	s.mu.Unlock()
	if s.cb.OnPromptSent != nil {
		s.cb.OnPromptSent(p)
	}
}

// SetMode switches the agent's permission mode. Fire-and-forget: the request
// carries an id but the response is not tracked. Requires an active session.
func (s *Session) SetMode(modeID string) bool {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return false
	}
	id := "setmode-" + s.newID()
	err := s.writeRequest(id, MethodSessionSetMode, map[string]any{
		"sessionId": sessionID,
		"modeId":    modeID,
	})
	return err == nil
}

// CancelCurrentPrompt asks the peer to stop the in-flight turn. It is a
// notification: the peer must not reply. The actual halt is cooperative and
// arrives later as a stopReason, if at all.
func (s *Session) CancelCurrentPrompt() bool {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return false
	}
	err := s.writeFrame(map[string]any{
		"jsonrpc": "2.0",
		"method":  MethodSessionCancel,
		"params":  map[string]any{"sessionId": sessionID},
	})
	return err == nil
}

// RespondToPermissionRequest answers a peer permission request by its numeric
// id. Reports false if the transport rejects the frame.
func (s *Session) RespondToPermissionRequest(requestID int64, outcome PermissionOutcome) bool {
	err := s.writeFrame(map[string]any{
		"jsonrpc": "2.0",
		"id":      requestID,
		"result":  map[string]any{"outcome": outcome},
	})
	return err == nil
}

// HandleAgentMessage is the single entry point for inbound protocol traffic.
// It reports whether the frame was recognized and consumed.
func (s *Session) HandleAgentMessage(raw []byte) bool {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false
	}
	kind, stringID, numericID := Classify(&msg)
	switch kind {
	case KindPeerRequest:
		return s.handlePeerRequest(int64(numericID), &msg)
	case KindResponse:
		return s.handleResponse(stringID, &msg, raw)
	case KindNotification:
		return s.handleNotification(&msg)
	default:
		return false
	}
}

// handleResponse routes a string-id response through the correlation slots in
// priority order: initialize, authenticate, session/new, then pending prompts.
func (s *Session) handleResponse(id string, msg *Message, raw []byte) bool {
	s.mu.Lock()
	switch {
	case id == s.initID && s.initID != "":
		s.initID = ""
		s.mu.Unlock()
		s.emitResponseReceived(id)
		s.finishInitialize(msg)
		return true
	case id == s.authID && s.authID != "":
		s.authID = ""
		s.mu.Unlock()
		s.emitResponseReceived(id)
		s.finishAuthenticate(msg)
		return true
	case id == s.newSessID && s.newSessID != "":
		s.newSessID = ""
		s.mu.Unlock()
		s.emitResponseReceived(id)
		s.finishSessionNew(msg)
		return true
	}
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.emitResponseReceived(id)
	if msg.Error != nil {
		if s.cb.OnPromptError != nil {
			s.cb.OnPromptError(id, msg.Error, p.Meta, raw)
		}
		return true
	}
	result := PromptResult{Raw: msg.Result}
	if len(result.Raw) == 0 {
		result.Raw = json.RawMessage("{}")
	}
	_ = json.Unmarshal(result.Raw, &result)
	if s.cb.OnPromptResult != nil {
		s.cb.OnPromptResult(id, result, p.Meta)
	}
	return true
}

func (s *Session) finishInitialize(msg *Message) {
	if msg.Error != nil {
		s.emitInitializeError(msg.Error)
		return
	}
	s.mu.Lock()
	s.initDone = true
	s.mu.Unlock()

	var result struct {
		AuthMethods []AuthMethod `json:"authMethods"`
	}
	_ = json.Unmarshal(msg.Result, &result)

	for _, m := range result.AuthMethods {
		if m.ID == AuthMethodGeminiAPIKey {
			s.sendAuthenticate(m.ID)
			return
		}
	}
	for _, m := range result.AuthMethods {
		if m.ID == AuthMethodOpencodeLogin {
			// The peer cannot work without an interactive login; stop here
			// and let the caller tell the user what to run.
			if s.cb.OnAuthenticationRequired != nil {
				s.cb.OnAuthenticationRequired(m)
			}
			return
		}
	}
	s.sendSessionNew()
}

func (s *Session) sendAuthenticate(methodID string) {
	id := "auth-" + s.newID()
	s.mu.Lock()
	s.authID = id
	s.mu.Unlock()
	err := s.writeRequest(id, MethodAuthenticate, map[string]any{"methodId": methodID})
	if err != nil {
		s.emitSessionError(err)
	}
}

func (s *Session) finishAuthenticate(msg *Message) {
	if msg.Error != nil {
		// Pre-session failures funnel through one callback on purpose.
		s.emitSessionError(msg.Error)
		return
	}
	s.sendSessionNew()
}

func (s *Session) sendSessionNew() {
	id := "session-" + s.newID()
	s.mu.Lock()
	s.newSessID = id
	s.mu.Unlock()

	cwd := s.cwd
	if cwd == "" {
		cwd = "/"
	}
	meta := map[string]any{"permissionMode": s.permissionMode}
	if s.resumeSessionID != "" {
		meta["claudeCode"] = map[string]any{
			"options": map[string]any{"resume": s.resumeSessionID},
		}
	}
	err := s.writeRequest(id, MethodSessionNew, map[string]any{
		"cwd":        cwd,
		"mcpServers": []any{},
		"_meta":      meta,
	})
	if err != nil {
		s.emitSessionError(err)
	}
}

func (s *Session) finishSessionNew(msg *Message) {
	if msg.Error != nil {
		s.emitSessionError(msg.Error)
		return
	}
	var result struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(msg.Result, &result)
	if result.SessionID == "" {
		s.emitSessionError(fmt.Errorf("session/new returned no sessionId"))
		return
	}

	s.mu.Lock()
	s.sessionID = result.SessionID
	flush := s.queued
	s.queued = nil
	s.mu.Unlock()

	if s.cb.OnSessionReady != nil {
		s.cb.OnSessionReady(result.SessionID)
	}
	for _, p := range flush {
		s.dispatchPrompt(result.SessionID, p)
	}
}

// handleNotification recognizes session/update only.
func (s *Session) handleNotification(msg *Message) bool {
	if msg.Method != MethodSessionUpdate {
		return false
	}
	var params struct {
		SessionID string          `json:"sessionId"`
		Update    json.RawMessage `json:"update"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params.Update) == 0 {
		return false
	}
	var update SessionUpdate
	if err := json.Unmarshal(params.Update, &update); err != nil {
		return false
	}
	if s.cb.OnSessionUpdate != nil {
		s.cb.OnSessionUpdate(params.SessionID, update)
	}
	return true
}

// handlePeerRequest recognizes session/request_permission only. Invalid
// option entries are dropped individually; a request left without usable
// options, sessionId, or tool call is rejected wholesale. No error frame goes
// back to the peer for malformed requests.
func (s *Session) handlePeerRequest(requestID int64, msg *Message) bool {
	if msg.Method != MethodRequestPermission {
		return false
	}
	var params struct {
		SessionID string              `json:"sessionId"`
		Options   []PermissionOption  `json:"options"`
		ToolCall  *PermissionToolCall `json:"toolCall"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return false
	}
	if params.SessionID == "" || params.ToolCall == nil ||
		params.ToolCall.ToolCallID == "" || params.ToolCall.Title == "" {
		return false
	}
	var options []PermissionOption
	for _, o := range params.Options {
		if o.Name == "" || o.OptionID == "" {
			continue
		}
		switch o.Kind {
		case PermissionAllowOnce, PermissionAllowAlways, PermissionRejectOnce:
			options = append(options, o)
		}
	}
	if len(options) == 0 {
		return false
	}
	if s.cb.OnPermissionRequest != nil {
		s.cb.OnPermissionRequest(PermissionRequest{
			RequestID: requestID,
			SessionID: params.SessionID,
			Options:   options,
			ToolCall:  *params.ToolCall,
		})
	}
	return true
}

func (s *Session) writeRequest(id, method string, params any) error {
	err := s.writeFrame(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	if s.cb.OnRequestDispatched != nil {
		s.cb.OnRequestDispatched(method, id)
	}
	return nil
}

// writeFrame serializes one frame and hands it to the transport. The wire
// contract is line-delimited JSON: every payload ends in exactly one newline.
func (s *Session) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	payload := string(data)
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	return s.send(payload)
}

func (s *Session) emitInitializeError(err error) {
	if s.cb.OnInitializeError != nil {
		s.cb.OnInitializeError(err)
	}
}

func (s *Session) emitSessionError(err error) {
	if s.cb.OnSessionError != nil {
		s.cb.OnSessionError(err)
	}
}

func (s *Session) emitResponseReceived(id string) {
	if s.cb.OnResponseReceived != nil {
		s.cb.OnResponseReceived(id)
	}
}
