package chat

import "github.com/layercodedev/sled/internal/acp"

// Renderer receives renderable snippets keyed by message id. A repeated id
// replaces the previous content for that id, so implementations must render
// idempotently per id. Failures stay on the renderer's side; the session
// never looks at them.
type Renderer interface {
	ShowMessage(id, role, content string)
	ClearMessage(id string)
	SetWorking(working bool)
}

// Store persists conversation artifacts. Errors are ignored by the session;
// persistence must not destabilize the turn.
type Store interface {
	SaveMessage(role, content string) error
	SaveToolCall(tc ToolCall) error
	SaveSessionID(sessionID string) error
}

// SpeechEmitter receives completed sentences, in order, exactly once each.
type SpeechEmitter interface {
	EmitSentence(text string) error
}

// PermissionPrompter surfaces a pending permission decision to the user. The
// answer comes back later through Session.RespondPermission.
type PermissionPrompter interface {
	PromptPermission(req acp.PermissionRequest)
}

// ToolCall is the persisted form of a finished tool invocation.
type ToolCall struct {
	ToolCallID string   `json:"toolCallId"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	Kind       string   `json:"kind,omitempty"`
	Content    []string `json:"content,omitempty"`
}

// Message roles used for snippets and persistence.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleThought   = "thought"
	RoleTool      = "tool"
)

type nopRenderer struct{}

func (nopRenderer) ShowMessage(_, _, _ string) {}
func (nopRenderer) ClearMessage(_ string)      {}
func (nopRenderer) SetWorking(_ bool)          {}

type nopStore struct{}

func (nopStore) SaveMessage(_, _ string) error    { return nil }
func (nopStore) SaveToolCall(_ ToolCall) error    { return nil }
func (nopStore) SaveSessionID(_ string) error     { return nil }

type nopSpeech struct{}

func (nopSpeech) EmitSentence(_ string) error { return nil }

type nopPermissions struct{}

func (nopPermissions) PromptPermission(_ acp.PermissionRequest) {}
