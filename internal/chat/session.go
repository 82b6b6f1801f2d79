package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/layercodedev/sled/internal/acp"
	"github.com/layercodedev/sled/internal/sentence"
)

// Config wires a Session to its transport and collaborators. Send is
// required; nil collaborators are replaced with no-ops.
type Config struct {
	AgentType       string // "claude", "opencode" or "gemini"; picks the login remediation
	PermissionMode  string
	Cwd             string
	ResumeSessionID string

	Send  func(payload string) error
	NewID func() string

	Renderer    Renderer
	Store       Store
	Speech      SpeechEmitter
	Permissions PermissionPrompter
}

// Session turns protocol events into renderable snippets, persistence calls
// and an incremental sentence stream. One Session serves one conversation;
// it owns its protocol session and enforces a single active turn.
type Session struct {
	proto     *acp.Session
	agentType string
	renderer  Renderer
	store     Store
	speech    SpeechEmitter
	perms     PermissionPrompter
	newID     func() string

	mu          sync.Mutex
	turns       []*promptState
	byMessageID map[string]*promptState
	orphanID    string
	orphanText  string
	outstanding []acp.PermissionRequest
}

// promptState is the per-turn state machine. Turns are retained for the life
// of the Session; completed ones only serve to absorb stray late events.
type promptState struct {
	requestID       string
	agentMessageID  string
	systemMessageID string

	agentContent   string
	thoughtContent string
	buffer         string // text not yet emitted as sentences

	completed         bool
	cancelled         bool
	cancelNoticeShown bool
	noticeCleared     bool

	segments         []*textSegment
	currentSegmentID string
	tools            map[string]*toolMessage
	toolOrder        []string
}

// textSegment is one contiguous run of streamed text, bounded by tool calls.
type textSegment struct {
	id      string
	content string
	closed  bool
}

type toolMessage struct {
	id         string
	toolCallID string
	title      string
	status     string
	kind       string
	content    []string
	persisted  bool
}

// New constructs a Session and its underlying protocol session. The handshake
// starts lazily on the first user message.
func New(cfg Config) *Session {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	s := &Session{
		agentType:   cfg.AgentType,
		renderer:    cfg.Renderer,
		store:       cfg.Store,
		speech:      cfg.Speech,
		perms:       cfg.Permissions,
		newID:       cfg.NewID,
		byMessageID: make(map[string]*promptState),
	}
	if s.renderer == nil {
		s.renderer = nopRenderer{}
	}
	if s.store == nil {
		s.store = nopStore{}
	}
	if s.speech == nil {
		s.speech = nopSpeech{}
	}
	if s.perms == nil {
		s.perms = nopPermissions{}
	}
	s.proto = acp.NewSession(acp.Options{
		Send:            cfg.Send,
		NewID:           cfg.NewID,
		PermissionMode:  cfg.PermissionMode,
		Cwd:             cfg.Cwd,
		ResumeSessionID: cfg.ResumeSessionID,
		Callbacks: acp.Callbacks{
			OnSessionReady:           s.onSessionReady,
			OnSessionError:           s.onSessionError,
			OnInitializeError:        s.onSessionError,
			OnAuthenticationRequired: s.onAuthenticationRequired,
			OnPromptQueued:           func(p acp.PendingPrompt) { log.Printf("prompt queued: %s", p.RequestID) },
			OnPromptSent:             func(p acp.PendingPrompt) { log.Printf("prompt sent: %s", p.RequestID) },
			OnPromptResult:           s.onPromptResult,
			OnPromptError:            s.onPromptError,
			OnSessionUpdate:          s.onSessionUpdate,
			OnPermissionRequest:      s.onPermissionRequest,
		},
	})
	return s
}

// HandleAgentLine feeds one raw line from the agent transport into the
// protocol session. Blank lines are skipped; unrecognized frames are logged
// and dropped.
func (s *Session) HandleAgentLine(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return false
	}
	if !s.proto.HandleAgentMessage(trimmed) {
		log.Printf("unhandled agent line: %.200s", trimmed)
		return false
	}
	return true
}

// HandleUserMessage opens a new turn for the given text. Any prior incomplete
// turn is force-completed first so stray late chunks from it cannot be
// attributed to the new turn. Returns the prompt request id, or "" for empty
// input.
func (s *Session) HandleUserMessage(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	s.mu.Lock()
	var staleNotices []string
	for _, t := range s.turns {
		if !t.completed {
			t.completed = true
			if !t.noticeCleared {
				t.noticeCleared = true
				staleNotices = append(staleNotices, t.systemMessageID)
			}
		}
	}
	s.orphanID, s.orphanText = "", ""
	st := &promptState{
		agentMessageID:  "agent-" + s.newID(),
		systemMessageID: "notice-" + s.newID(),
		tools:           make(map[string]*toolMessage),
	}
	s.turns = append(s.turns, st)
	s.byMessageID[st.agentMessageID] = st
	userID := "user-" + s.newID()
	s.mu.Unlock()

	for _, id := range staleNotices {
		s.renderer.ClearMessage(id)
	}
	s.renderer.ShowMessage(userID, RoleUser, text)
	s.renderer.ShowMessage(st.systemMessageID, RoleSystem, "Thinking...")
	s.renderer.SetWorking(true)
	_ = s.store.SaveMessage(RoleUser, text)

	requestID := s.proto.SendPrompt(text, st.agentMessageID)
	s.mu.Lock()
	st.requestID = requestID
	s.mu.Unlock()
	return requestID
}

// CancelPrompt asks the peer to stop the current turn and finalizes it
// locally without waiting for the acknowledgement. Safe to call repeatedly.
func (s *Session) CancelPrompt() bool {
	if !s.proto.CancelCurrentPrompt() {
		return false
	}
	s.finalizeCancel(nil)
	return true
}

// SetMode forwards a permission mode switch to the peer. The peer owns the
// mode from then on; the session keeps no copy of it.
func (s *Session) SetMode(modeID string) bool {
	return s.proto.SetMode(modeID)
}

// RespondPermission answers an outstanding permission request. Unknown ids
// are ignored so a double answer cannot reach the peer.
func (s *Session) RespondPermission(requestID int64, outcome acp.PermissionOutcome) bool {
	s.mu.Lock()
	found := false
	kept := s.outstanding[:0]
	for _, p := range s.outstanding {
		if p.RequestID == requestID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	s.outstanding = kept
	s.mu.Unlock()
	if !found {
		return false
	}
	return s.proto.RespondToPermissionRequest(requestID, outcome)
}

// HandleDisconnect tears the turn down when the user transport goes away:
// the peer is told to stop and every outstanding permission request is
// cancelled so the peer never stalls on an answer that cannot come.
func (s *Session) HandleDisconnect() {
	_ = s.proto.CancelCurrentPrompt()
	s.finalizeCancel(nil)
}

func (s *Session) onSessionReady(sessionID string) {
	log.Printf("agent session ready: %s", sessionID)
	_ = s.store.SaveSessionID(sessionID)
}

func (s *Session) onSessionError(err error) {
	msg := s.errorText(err)
	s.mu.Lock()
	st := s.activeLocked()
	var flush, noticeID string
	if st != nil {
		st.completed = true
		flush = flushBufferLocked(st)
		if !st.noticeCleared {
			st.noticeCleared = true
			noticeID = st.systemMessageID
		}
	}
	errID := "error-" + s.newID()
	s.mu.Unlock()

	if flush != "" {
		_ = s.speech.EmitSentence(flush)
	}
	if noticeID != "" {
		s.renderer.ClearMessage(noticeID)
	}
	s.renderer.ShowMessage(errID, RoleSystem, msg)
	s.renderer.SetWorking(false)
}

func (s *Session) onAuthenticationRequired(_ acp.AuthMethod) {
	s.mu.Lock()
	id := "error-" + s.newID()
	s.mu.Unlock()
	msg := fmt.Sprintf("Authentication required. Run `%s` in your terminal, then send your message again.",
		loginCommand(s.agentType))
	s.renderer.ShowMessage(id, RoleSystem, msg)
	s.renderer.SetWorking(false)
}

func (s *Session) onSessionUpdate(_ string, u acp.SessionUpdate) {
	switch u.SessionUpdate {
	case acp.UpdateAgentMessageChunk:
		s.appendAgentText(u.TextContent())
	case acp.UpdateAgentThoughtChunk:
		s.appendThought(u.TextContent())
	case acp.UpdateToolCall, acp.UpdateToolCallUpdate:
		s.applyToolUpdate(u)
	}
}

// appendAgentText accumulates a streamed text chunk into the open segment,
// re-rendering the whole segment content, and advances the sentence stream.
// A chunk with no active turn lands in the orphan slot instead of being
// dropped: the peer sometimes trails a final chunk after the turn settled.
func (s *Session) appendAgentText(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	st := s.activeLocked()
	if st == nil {
		if s.orphanID == "" {
			s.orphanID = "orphan-" + s.newID()
		}
		s.orphanText += text
		id, content := s.orphanID, s.orphanText
		s.mu.Unlock()
		s.renderer.ShowMessage(id, RoleAssistant, content)
		return
	}
	if st.currentSegmentID == "" {
		seg := &textSegment{id: "segment-" + s.newID()}
		st.segments = append(st.segments, seg)
		st.currentSegmentID = seg.id
	}
	seg := st.segments[len(st.segments)-1]
	seg.content += text
	st.agentContent += text
	st.buffer += text
	sentences, remainder := sentence.Extract(st.buffer)
	st.buffer = remainder
	id, content := seg.id, seg.content
	s.mu.Unlock()

	s.renderer.ShowMessage(id, RoleAssistant, content)
	for _, line := range sentences {
		_ = s.speech.EmitSentence(line)
	}
}

// appendThought replaces the turn's thinking notice with the accumulated
// thought stream. Thoughts are display-only: never persisted, never spoken.
func (s *Session) appendThought(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	st := s.activeLocked()
	if st == nil {
		s.mu.Unlock()
		return
	}
	st.thoughtContent += text
	id, content := st.systemMessageID, st.thoughtContent
	s.mu.Unlock()
	s.renderer.ShowMessage(id, RoleThought, content)
}

// applyToolUpdate tracks the tool call lifecycle. The first sighting of a
// toolCallId closes the open text segment and flushes the sentence buffer so
// spoken output never trails behind a tool boundary. A tool call persists
// exactly once, when its status first classifies terminal.
func (s *Session) applyToolUpdate(u acp.SessionUpdate) {
	if u.ToolCallID == "" {
		return
	}
	s.mu.Lock()
	st := s.activeLocked()
	if st == nil {
		s.mu.Unlock()
		return
	}
	var flush string
	tm, known := st.tools[u.ToolCallID]
	if !known {
		if st.currentSegmentID != "" {
			st.segments[len(st.segments)-1].closed = true
			st.currentSegmentID = ""
		}
		flush = flushBufferLocked(st)
		tm = &toolMessage{id: "tool-" + s.newID(), toolCallID: u.ToolCallID}
		st.tools[u.ToolCallID] = tm
		st.toolOrder = append(st.toolOrder, u.ToolCallID)
	}
	if u.Title != "" {
		tm.title = u.Title
	}
	if u.Kind != "" {
		tm.kind = u.Kind
	}
	if u.Status != "" {
		tm.status = u.Status
	}
	tm.content = append(tm.content, u.ToolContentText()...)

	var save *ToolCall
	if classifyStatus(tm.status).terminal() && !tm.persisted {
		tm.persisted = true
		save = snapshotTool(tm)
	}
	id, content := tm.id, renderTool(tm)
	s.mu.Unlock()

	if flush != "" {
		_ = s.speech.EmitSentence(flush)
	}
	s.renderer.ShowMessage(id, RoleTool, content)
	if save != nil {
		_ = s.store.SaveToolCall(*save)
	}
}

func (s *Session) onPromptResult(_ string, result acp.PromptResult, meta any) {
	if result.StopReason == acp.StopReasonCancelled {
		s.finalizeCancel(meta)
		return
	}
	s.mu.Lock()
	st := s.stateForMetaLocked(meta)
	if st == nil || st.completed {
		s.mu.Unlock()
		return
	}
	st.completed = true
	flush := flushBufferLocked(st)
	var finalID, finalContent string
	if st.currentSegmentID != "" {
		seg := st.segments[len(st.segments)-1]
		seg.closed = true
		st.currentSegmentID = ""
		finalID, finalContent = seg.id, seg.content
	} else if len(st.segments) == 0 && st.agentContent != "" {
		finalID, finalContent = st.agentMessageID, st.agentContent
	}
	var noticeID string
	if !st.noticeCleared {
		st.noticeCleared = true
		noticeID = st.systemMessageID
	}
	persisted := st.agentContent
	s.mu.Unlock()

	if flush != "" {
		_ = s.speech.EmitSentence(flush)
	}
	if finalID != "" {
		s.renderer.ShowMessage(finalID, RoleAssistant, finalContent)
	}
	if noticeID != "" {
		s.renderer.ClearMessage(noticeID)
	}
	s.renderer.SetWorking(false)
	// A turn that produced no text at all leaves no assistant message behind.
	if persisted != "" {
		_ = s.store.SaveMessage(RoleAssistant, persisted)
	}
}

func (s *Session) onPromptError(_ string, err error, meta any, _ []byte) {
	msg := s.errorText(err)
	s.mu.Lock()
	st := s.stateForMetaLocked(meta)
	var flush, noticeID string
	if st != nil && !st.completed {
		st.completed = true
		flush = flushBufferLocked(st)
		if st.currentSegmentID != "" {
			st.segments[len(st.segments)-1].closed = true
			st.currentSegmentID = ""
		}
		if !st.noticeCleared {
			st.noticeCleared = true
			noticeID = st.systemMessageID
		}
	}
	errID := "error-" + s.newID()
	s.mu.Unlock()

	if flush != "" {
		_ = s.speech.EmitSentence(flush)
	}
	if noticeID != "" {
		s.renderer.ClearMessage(noticeID)
	}
	s.renderer.ShowMessage(errID, RoleSystem, msg)
	s.renderer.SetWorking(false)
}

func (s *Session) onPermissionRequest(req acp.PermissionRequest) {
	s.mu.Lock()
	s.outstanding = append(s.outstanding, req)
	s.mu.Unlock()
	s.perms.PromptPermission(req)
}

// finalizeCancel settles a turn after cancellation, whether triggered locally
// or by a late stopReason. All paths are idempotent: the cancelled snippet
// and the working-state clear fire at most once per turn, and outstanding
// permission requests are cancelled even when no turn is active.
func (s *Session) finalizeCancel(meta any) {
	s.mu.Lock()
	perms := s.outstanding
	s.outstanding = nil

	var st *promptState
	if meta == nil {
		st = s.activeLocked()
	} else {
		st = s.stateForMetaLocked(meta)
	}
	var flush, noticeID, cancelID string
	var toolShows []struct{ id, content string }
	var toolSaves []ToolCall
	if st != nil {
		st.cancelled = true
		st.completed = true
		flush = flushBufferLocked(st)
		if st.currentSegmentID != "" {
			st.segments[len(st.segments)-1].closed = true
			st.currentSegmentID = ""
		}
		if !st.noticeCleared {
			st.noticeCleared = true
			noticeID = st.systemMessageID
		}
		if !st.cancelNoticeShown {
			st.cancelNoticeShown = true
			cancelID = "notice-" + s.newID()
			for _, tcID := range st.toolOrder {
				tm := st.tools[tcID]
				if classifyStatus(tm.status).terminal() {
					continue
				}
				tm.status = "cancelled"
				toolShows = append(toolShows, struct{ id, content string }{tm.id, renderTool(tm)})
				if !tm.persisted {
					tm.persisted = true
					toolSaves = append(toolSaves, *snapshotTool(tm))
				}
			}
		}
	}
	s.mu.Unlock()

	if flush != "" {
		_ = s.speech.EmitSentence(flush)
	}
	if noticeID != "" {
		s.renderer.ClearMessage(noticeID)
	}
	for _, ts := range toolShows {
		s.renderer.ShowMessage(ts.id, RoleTool, ts.content)
	}
	for _, tc := range toolSaves {
		_ = s.store.SaveToolCall(tc)
	}
	if cancelID != "" {
		s.renderer.ShowMessage(cancelID, RoleSystem, "Cancelled.")
		s.renderer.SetWorking(false)
	}
	for _, p := range perms {
		s.proto.RespondToPermissionRequest(p.RequestID, acp.OutcomeCancelled())
	}
}

// activeLocked returns the single incomplete turn, if any. Caller holds mu.
func (s *Session) activeLocked() *promptState {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if !s.turns[i].completed {
			return s.turns[i]
		}
	}
	return nil
}

func (s *Session) stateForMetaLocked(meta any) *promptState {
	id, ok := meta.(string)
	if !ok {
		return nil
	}
	return s.byMessageID[id]
}

// flushBufferLocked drains the sentence buffer so trailing text that never
// reached a hard boundary is still spoken. Caller holds mu and emits the
// returned text after unlocking.
func flushBufferLocked(st *promptState) string {
	text := strings.TrimSpace(st.buffer)
	st.buffer = ""
	return text
}

func renderTool(tm *toolMessage) string {
	title := tm.title
	if title == "" {
		title = tm.toolCallID
	}
	line := title
	if tm.status != "" {
		line += " [" + tm.status + "]"
	}
	if len(tm.content) > 0 {
		line += "\n" + strings.Join(tm.content, "\n")
	}
	return line
}

func snapshotTool(tm *toolMessage) *ToolCall {
	return &ToolCall{
		ToolCallID: tm.toolCallID,
		Title:      tm.title,
		Status:     tm.status,
		Kind:       tm.kind,
		Content:    append([]string(nil), tm.content...),
	}
}

// errorText renders an agent error for the user. Authentication failures are
// pattern-matched out and turned into a per-agent login remediation.
func (s *Session) errorText(err error) string {
	var eo *acp.ErrorObject
	if errors.As(err, &eo) {
		if authRequired(eo) {
			return fmt.Sprintf("Authentication required. Run `%s` in your terminal, then send your message again.",
				loginCommand(s.agentType))
		}
		if data, mErr := json.Marshal(eo); mErr == nil {
			return "Agent error: " + string(data)
		}
	}
	return "Agent error: " + err.Error()
}

func authRequired(eo *acp.ErrorObject) bool {
	if eo.Code == -32000 && eo.Message == "Authentication required" {
		return true
	}
	if len(eo.Data) > 0 {
		var data struct {
			Details string `json:"details"`
		}
		if json.Unmarshal(eo.Data, &data) == nil && data.Details == "invalid_grant" {
			return true
		}
	}
	return false
}

func loginCommand(agentType string) string {
	switch agentType {
	case "opencode":
		return "opencode auth login"
	case "gemini":
		return "gemini"
	default:
		return "claude /login"
	}
}
