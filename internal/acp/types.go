// Package acp implements the client side of the Agent Control Protocol: a
// newline-delimited JSON-RPC 2.0 dialogue with a remote coding agent. The
// package owns the handshake state machine, request/response correlation and
// permission routing; it knows nothing about rendering or storage.
package acp

import (
	"encoding/json"
	"fmt"
	"math"
)

// Methods exchanged with the agent peer.
const (
	MethodInitialize        = "initialize"
	MethodAuthenticate      = "authenticate"
	MethodSessionNew        = "session/new"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionSetMode    = "session/set_mode"
	MethodSessionCancel     = "session/cancel"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
)

// Auth method ids the handshake knows how to deal with.
const (
	AuthMethodGeminiAPIKey  = "gemini-api-key"
	AuthMethodOpencodeLogin = "opencode-login"
)

// Message is a JSON-RPC 2.0 frame as it appears on the wire. The id is kept
// raw because its JSON type is load-bearing: requests we issue carry string
// ids, peer-issued requests carry numeric ids, and Classify discriminates the
// two rather than guessing from field presence.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC error payload. It implements error so protocol
// errors flow through ordinary Go error values.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// Kind is the result of classifying an inbound frame.
type Kind int

const (
	KindInvalid Kind = iota
	KindPeerRequest
	KindResponse
	KindNotification
)

// Classify discriminates an inbound frame. A finite integral numeric id
// together with a method marks a peer-initiated request (zero is a valid id);
// a non-empty string id marks a response to one of our own requests; a method
// with no id is a notification; anything else is invalid. Fractional ids are
// rejected: the response must echo the id exactly, which an int64 cannot.
func Classify(msg *Message) (kind Kind, stringID string, numericID float64) {
	if len(msg.ID) > 0 {
		var n float64
		if err := json.Unmarshal(msg.ID, &n); err == nil {
			if msg.Method != "" && !math.IsNaN(n) && !math.IsInf(n, 0) && n == math.Trunc(n) {
				return KindPeerRequest, "", n
			}
			return KindInvalid, "", 0
		}
		var s string
		if err := json.Unmarshal(msg.ID, &s); err == nil && s != "" {
			return KindResponse, s, 0
		}
		return KindInvalid, "", 0
	}
	if msg.Method != "" {
		return KindNotification, "", 0
	}
	return KindInvalid, "", 0
}

// AuthMethod describes one entry of the initialize result's authMethods list.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// SessionUpdate is the payload of a session/update notification. "content" is
// kept raw because the wire reuses the key for both a single content block
// (message chunks) and an array of tool content items (tool calls).
type SessionUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Status        string          `json:"status,omitempty"`
	Title         string          `json:"title,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
}

// Session update discriminators this client reacts to.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
)

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent decodes the content field as a single text block, returning ""
// for any other shape.
func (u *SessionUpdate) TextContent() string {
	if len(u.Content) == 0 {
		return ""
	}
	var b contentBlock
	if err := json.Unmarshal(u.Content, &b); err != nil {
		return ""
	}
	if b.Type != "" && b.Type != "text" {
		return ""
	}
	return b.Text
}

// ToolContentText decodes the content field as a list of tool content items
// and flattens them to their embedded text, dropping non-text entries.
func (u *SessionUpdate) ToolContentText() []string {
	if len(u.Content) == 0 {
		return nil
	}
	var items []struct {
		Type    string        `json:"type"`
		Content *contentBlock `json:"content,omitempty"`
		Text    string        `json:"text,omitempty"`
	}
	if err := json.Unmarshal(u.Content, &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		switch {
		case it.Content != nil && it.Content.Text != "":
			out = append(out, it.Content.Text)
		case it.Text != "":
			out = append(out, it.Text)
		}
	}
	return out
}

// PermissionOption is one user-selectable answer to a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// Permission option kinds accepted from the peer.
const (
	PermissionAllowOnce   = "allow_once"
	PermissionAllowAlways = "allow_always"
	PermissionRejectOnce  = "reject_once"
)

// PermissionToolCall describes the tool the peer is asking to run.
type PermissionToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	Title      string          `json:"title"`
}

// PermissionRequest is a validated peer-initiated session/request_permission.
// RequestID is the peer's numeric JSON-RPC id and must be echoed back in the
// response exactly once.
type PermissionRequest struct {
	RequestID int64
	SessionID string
	Options   []PermissionOption
	ToolCall  PermissionToolCall
}

// PermissionOutcome is the result sent back for a permission request.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// OutcomeSelected answers a permission request with the chosen option.
func OutcomeSelected(optionID string) PermissionOutcome {
	return PermissionOutcome{Outcome: "selected", OptionID: optionID}
}

// OutcomeCancelled answers a permission request with a cancellation; no
// option was or will be chosen.
func OutcomeCancelled() PermissionOutcome {
	return PermissionOutcome{Outcome: "cancelled"}
}

// PromptResult is the terminal result of a session/prompt turn.
type PromptResult struct {
	StopReason string `json:"stopReason"`

	// Raw is the full result object, defaulted to {} when absent.
	Raw json.RawMessage `json:"-"`
}

// StopReasonCancelled marks a turn the peer confirmed as cancelled.
const StopReasonCancelled = "cancelled"

// PendingPrompt is a user prompt waiting to be sent or answered. Meta is an
// opaque correlation token owned by the caller and handed back verbatim on
// the prompt's result or error.
type PendingPrompt struct {
	RequestID string
	Text      string
	Meta      any
}
