package acp

import (
	"encoding/json"
	"fmt"
)

// DemoEvent is one entry of a demo run's ordered transcript.
type DemoEvent struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// DemoOptions shapes the scripted peer.
type DemoOptions struct {
	AuthMethods []string // auth method ids advertised by initialize
	SessionID   string   // defaults to "demo-session"
	Chunks      []string // agent_message_chunk texts streamed per prompt
	StopReason  string   // defaults to "end_turn"
	Prompt      string   // defaults to "ping"
}

// RunDemo drives a real Session against a canned in-process peer and returns
// the ordered event transcript. Diagnostics and test surface only: it
// exercises the whole handshake plus one prompt turn without a live agent.
func RunDemo(opts DemoOptions) []DemoEvent {
	if opts.SessionID == "" {
		opts.SessionID = "demo-session"
	}
	if opts.StopReason == "" {
		opts.StopReason = "end_turn"
	}
	if opts.Prompt == "" {
		opts.Prompt = "ping"
	}

	var events []DemoEvent
	record := func(name, detail string) {
		events = append(events, DemoEvent{Name: name, Detail: detail})
	}

	peer := &demoPeer{opts: opts}

	seq := 0
	sess := NewSession(Options{
		Send: peer.receive,
		NewID: func() string {
			seq++
			return fmt.Sprintf("demo-%d", seq)
		},
		PermissionMode: "default",
		Callbacks: Callbacks{
			OnRequestDispatched: func(method, id string) { record("request", method) },
			OnSessionReady:      func(id string) { record("session_ready", id) },
			OnSessionError:      func(err error) { record("session_error", err.Error()) },
			OnInitializeError:   func(err error) { record("initialize_error", err.Error()) },
			OnAuthenticationRequired: func(m AuthMethod) {
				record("authentication_required", m.ID)
			},
			OnPromptQueued: func(p PendingPrompt) { record("prompt_queued", p.Text) },
			OnPromptSent:   func(p PendingPrompt) { record("prompt_sent", p.Text) },
			OnSessionUpdate: func(sessionID string, u SessionUpdate) {
				record("update", u.SessionUpdate)
			},
			OnPromptResult: func(id string, r PromptResult, meta any) {
				record("prompt_result", r.StopReason)
			},
			OnPromptError: func(id string, err error, meta any, raw []byte) {
				record("prompt_error", err.Error())
			},
		},
	})

	sess.SendPrompt(opts.Prompt, nil)

	// Drain scripted replies until the exchange settles. Replies are queued
	// rather than delivered inside Send so the demo behaves like a real
	// asynchronous transport.
	for len(peer.outbox) > 0 {
		raw := peer.outbox[0]
		peer.outbox = peer.outbox[1:]
		sess.HandleAgentMessage(raw)
	}
	return events
}

// demoPeer answers every client frame with a scripted reply, queued for
// delivery after the send returns.
type demoPeer struct {
	opts   DemoOptions
	outbox [][]byte
}

// receive is the Session's Send func: it parses the outbound frame and queues
// the scripted response.
func (p *demoPeer) receive(payload string) error {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return err
	}
	var id string
	_ = json.Unmarshal(msg.ID, &id)

	switch msg.Method {
	case MethodInitialize:
		methods := make([]map[string]any, 0, len(p.opts.AuthMethods))
		for _, m := range p.opts.AuthMethods {
			methods = append(methods, map[string]any{"id": m, "name": m})
		}
		p.respond(id, map[string]any{"protocolVersion": 1, "authMethods": methods})
	case MethodAuthenticate:
		p.respond(id, map[string]any{})
	case MethodSessionNew:
		p.respond(id, map[string]any{"sessionId": p.opts.SessionID})
	case MethodSessionPrompt:
		for _, chunk := range p.opts.Chunks {
			p.notify(MethodSessionUpdate, map[string]any{
				"sessionId": p.opts.SessionID,
				"update": map[string]any{
					"sessionUpdate": UpdateAgentMessageChunk,
					"content":       map[string]any{"type": "text", "text": chunk},
				},
			})
		}
		p.respond(id, map[string]any{"stopReason": p.opts.StopReason})
	case MethodSessionCancel, MethodSessionSetMode:
		// No scripted reaction.
	}
	return nil
}

func (p *demoPeer) respond(id string, result map[string]any) {
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	p.outbox = append(p.outbox, raw)
}

func (p *demoPeer) notify(method string, params map[string]any) {
	raw, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	p.outbox = append(p.outbox, raw)
}
