package repository

import (
	"context"
	"time"

	"github.com/fastygo/donote/domain"
)

// SessionRepository stores one active session per identity.
type SessionRepository interface {
	Get(ctx context.Context, uid string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, uid string) error
	Extend(ctx context.Context, uid string, ttl time.Duration) error
}
