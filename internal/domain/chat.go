package domain

import "time"

// ChatMessage is one persisted message in a session's history.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user | assistant | system
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStats summarizes one session's history. Computed from the history
// store and served through the cache-aside layer; invalidated whenever a
// message is saved to the session.
type SessionStats struct {
	SessionID    string    `json:"session_id"`
	MessageCount int64     `json:"message_count"`
	UserCount    int64     `json:"user_count"`
	TokensIn     int64     `json:"tokens_in"`
	TokensOut    int64     `json:"tokens_out"`
	FirstAt      time.Time `json:"first_at"`
	LastAt       time.Time `json:"last_at"`
}
