package domain

import "time"

// Session represents an active sign-in of an identity, cached in Redis.
type Session struct {
	ID        string    `json:"id"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) IsExpired(reference time.Time) bool {
	if s == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !s.ExpiresAt.After(reference)
}

// Celebration is the one-shot UI signal raised after a task is added or completed.
type Celebration struct {
	Active   bool      `json:"active"`
	Message  string    `json:"message,omitempty"`
	RaisedAt time.Time `json:"raisedAt,omitempty"`
}
