package domain

import (
	"time"
)

// Origin tags recorded on a session at creation time.
const (
	OriginWeb = "zeus-web"
	OriginCLI = "zeus-cli"
)

// Session identifies one logical conversation. Sessions are never mutated
// after creation; starting a new conversation creates a new Session.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	// Request metadata captured for audit purposes.
	Origin    string `json:"origin,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// OwnedBy reports whether the session belongs to userID.
func (s *Session) OwnedBy(userID string) bool {
	return s != nil && userID != "" && s.UserID == userID
}
