package chat

import "strings"

// statusClass buckets the peer's free-form tool status strings. The peer does
// not pin a vocabulary, so matching is by substring, not enum.
type statusClass int

const (
	statusPending statusClass = iota
	statusRunning
	statusSuccess
	statusError
	statusCancelled
)

// terminal reports whether a tool call in this state will never change again.
func (c statusClass) terminal() bool {
	return c == statusSuccess || c == statusError || c == statusCancelled
}

// classifyStatus maps a raw status string to a class. Observed vocabulary:
// "pending", "in_progress", "running", "completed", "complete", "done",
// "success", "failed", "error", "cancelled".
func classifyStatus(status string) statusClass {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "cancel"):
		return statusCancelled
	case strings.Contains(s, "error"), strings.Contains(s, "fail"):
		return statusError
	case strings.Contains(s, "success"), strings.Contains(s, "complete"), strings.Contains(s, "done"):
		return statusSuccess
	case strings.Contains(s, "running"), strings.Contains(s, "progress"):
		return statusRunning
	default:
		return statusPending
	}
}
