package domain

import (
	"errors"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus is the lifecycle tag of a turn.
type TurnStatus string

const (
	// TurnPending marks a placeholder assistant turn awaiting inference.
	TurnPending TurnStatus = "pending"
	// TurnCommitted marks a turn with final content.
	TurnCommitted TurnStatus = "committed"
	// TurnFailed marks an assistant turn whose inference failed. Content
	// holds the user-facing failure reason.
	TurnFailed TurnStatus = "failed"
)

var (
	errEmptyCommitted = errors.New("committed turn requires content")
	errUnknownStatus  = errors.New("unknown turn status")
	errUnknownRole    = errors.New("unknown turn role")
	errNotPending     = errors.New("only pending turns can be resolved")
)

// Turn is one utterance in a session.
type Turn struct {
	TurnID    string     `json:"turn_id" msgpack:"id"`
	Role      Role       `json:"role" msgpack:"role"`
	Content   string     `json:"content" msgpack:"content"`
	Timestamp time.Time  `json:"timestamp" msgpack:"ts"`
	Status    TurnStatus `json:"status" msgpack:"status"`

	// Local marks turns authored on the client side and never persisted,
	// such as the welcome turn of a new conversation.
	Local bool `json:"local,omitempty" msgpack:"-"`
}

// Pending returns a placeholder assistant turn.
func Pending(turnID, placeholder string, ts time.Time) Turn {
	return Turn{TurnID: turnID, Role: RoleAssistant, Content: placeholder, Timestamp: ts, Status: TurnPending}
}

// Committed returns a committed turn for role.
func Committed(turnID string, role Role, content string, ts time.Time) Turn {
	return Turn{TurnID: turnID, Role: role, Content: content, Timestamp: ts, Status: TurnCommitted}
}

// IsPending reports whether the turn is still awaiting a result.
func (t Turn) IsPending() bool { return t.Status == TurnPending }

// IsCommitted reports whether the turn carries final content.
func (t Turn) IsCommitted() bool { return t.Status == TurnCommitted }

// Validate checks the turn invariants.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
	default:
		return errUnknownRole
	}
	switch t.Status {
	case TurnPending, TurnFailed:
	case TurnCommitted:
		if t.Content == "" {
			return errEmptyCommitted
		}
	default:
		return errUnknownStatus
	}
	return nil
}

// TurnPatch is a partial update applied to a stored turn.
type TurnPatch struct {
	Content *string     `json:"content,omitempty"`
	Status  *TurnStatus `json:"status,omitempty"`
}

// Resolve builds the patch that replaces a pending turn in place.
func Resolve(status TurnStatus, content string) TurnPatch {
	return TurnPatch{Content: &content, Status: &status}
}

// Apply returns t with the patch applied. Only pending turns may change
// status; the replacement must itself be a valid turn.
func (p TurnPatch) Apply(t Turn) (Turn, error) {
	if p.Status != nil && *p.Status != t.Status && !t.IsPending() {
		return t, errNotPending
	}
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t, t.Validate()
}

// CommittedHistory returns at most limit committed turns from turns,
// keeping the most recent ones in their original order.
func CommittedHistory(turns []Turn, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	out := make([]Turn, 0, limit)
	for _, t := range turns {
		if t.IsCommitted() && !t.Local {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
