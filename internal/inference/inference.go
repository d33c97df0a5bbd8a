// Package inference sends single-turn generation requests to a remote
// text-generation service.
package inference

import (
	"context"
	"errors"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
)

// DefaultHistoryLimit is the number of committed turns sent with a request.
const DefaultHistoryLimit = 20

// Failure modes. Clients never retry on their own; a failed request needs
// an explicit resubmission by the user.
var (
	// ErrTimeout means no response arrived within the request deadline.
	ErrTimeout = errors.New("inference: timeout")
	// ErrRemote means the backend returned an error status.
	ErrRemote = errors.New("inference: remote error")
	// ErrAuth means the caller is not authorized.
	ErrAuth = errors.New("inference: unauthenticated")
)

// Request is one generation call.
type Request struct {
	RequestID string
	SessionID string
	UserID    string
	Prompt    string
	// History holds the committed turns preceding Prompt, oldest first.
	History []domain.Turn
}

// Reply is the generated text.
type Reply struct {
	MessageID string
	Text      string
}

// Client generates assistant replies.
type Client interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// BoundHistory trims history to the most recent limit committed turns.
func BoundHistory(history []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return domain.CommittedHistory(history, limit)
}

// classifyContext maps a context error onto the client taxonomy. It returns nil
// when err is not a context error.
func classifyContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return nil
}
