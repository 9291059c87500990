package domain

import (
	"context"
	"time"
)

// SessionSnapshot captures the serialized document of an editing session so it
// can be restored after a restart.
type SessionSnapshot struct {
	Document []byte    `json:"-"`
	Source   string    `json:"source,omitempty"`
	Revision int64     `json:"revision"`
	SavedAt  time.Time `json:"saved_at"`
}

// SessionStore is a minimal abstraction over durable snapshot backends.
type SessionStore interface {
	SaveSession(ctx context.Context, snapshot SessionSnapshot) error
	// LoadSession returns the latest snapshot; ok is false when none was saved.
	LoadSession(ctx context.Context) (snapshot SessionSnapshot, ok bool, err error)
	Close() error
}
