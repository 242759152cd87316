package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
	appLogger "github.com/fastygo/donote/pkg/logger"
	"github.com/fastygo/donote/repository"
	"github.com/fastygo/donote/usecase/store"
)

const (
	defaultSessionTTL      = 24 * time.Hour
	defaultJanitorSchedule = "@every 1m"
)

// Stores opens and closes the per-identity stores.
type Stores interface {
	Open(ctx context.Context, identity domain.Identity) (*store.Store, error)
	Close(uid string) bool
	UIDs() []string
}

type Config struct {
	SessionTTL      time.Duration
	AllowedEmails   []string
	AllowedUIDs     []string
	JanitorSchedule string
}

type UseCase struct {
	sessions repository.SessionRepository
	stores   Stores
	logger   *zap.Logger
	now      func() time.Time

	ttl      time.Duration
	emails   map[string]struct{}
	uids     map[string]struct{}
	schedule string
	cron     *cron.Cron
}

func New(sessions repository.SessionRepository, stores Stores, cfg Config, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.JanitorSchedule == "" {
		cfg.JanitorSchedule = defaultJanitorSchedule
	}
	return &UseCase{
		sessions: sessions,
		stores:   stores,
		logger:   logger,
		now:      time.Now,
		ttl:      cfg.SessionTTL,
		emails:   toSet(cfg.AllowedEmails, strings.ToLower),
		uids:     toSet(cfg.AllowedUIDs, nil),
		schedule: cfg.JanitorSchedule,
	}
}

// Allowed reports whether the identity may sign in. Empty allowlists admit every verified identity.
func (uc *UseCase) Allowed(identity domain.Identity) bool {
	if len(uc.emails) == 0 && len(uc.uids) == 0 {
		return true
	}
	if _, ok := uc.uids[identity.UID]; ok {
		return true
	}
	if identity.Email == "" {
		return false
	}
	_, ok := uc.emails[strings.ToLower(identity.Email)]
	return ok
}

// SignIn records a session for the identity and opens its store.
func (uc *UseCase) SignIn(ctx context.Context, identity domain.Identity) (*domain.Session, error) {
	if !identity.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if !uc.Allowed(identity) {
		uc.logger.Warn("sign-in denied", zap.String("uid", identity.UID))
		return nil, domain.ErrForbidden
	}

	now := uc.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(uc.ttl),
	}
	if err := uc.sessions.Save(ctx, session); err != nil {
		return nil, domain.WrapError(domain.ErrCodeUnavailable, "save session failed", err)
	}
	if _, err := uc.stores.Open(ctx, identity); err != nil {
		if delErr := uc.sessions.Delete(ctx, identity.UID); delErr != nil {
			uc.logger.Warn("failed to roll back session", zap.String("uid", identity.UID), zap.Error(delErr))
		}
		return nil, err
	}
	uc.logger.Info("signed in", zap.String("uid", identity.UID), zap.String("session_id", session.ID))
	return session, nil
}

// Session returns the live session of uid. Expired sessions are removed and reported as missing.
func (uc *UseCase) Session(ctx context.Context, uid string) (*domain.Session, error) {
	session, err := uc.sessions.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(uc.now()) {
		_ = uc.sessions.Delete(ctx, uid)
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Refresh pushes the session expiry out by the configured TTL.
func (uc *UseCase) Refresh(ctx context.Context, uid string) (*domain.Session, error) {
	session, err := uc.Session(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := uc.sessions.Extend(ctx, uid, uc.ttl); err != nil {
		return nil, err
	}
	session.ExpiresAt = uc.now().Add(uc.ttl)
	return session, nil
}

// SignOut closes the identity's store and forgets its session.
func (uc *UseCase) SignOut(ctx context.Context, uid string) error {
	uc.stores.Close(uid)
	if err := uc.sessions.Delete(ctx, uid); err != nil {
		return domain.WrapError(domain.ErrCodeUnavailable, "delete session failed", err)
	}
	uc.logger.Info("signed out", zap.String("uid", uid))
	return nil
}

// Sweep closes the stores whose session has expired and returns how many were closed.
func (uc *UseCase) Sweep(ctx context.Context) int {
	closed := 0
	for _, uid := range uc.stores.UIDs() {
		_, err := uc.Session(ctx, uid)
		switch {
		case err == nil:
			continue
		case errors.Is(err, domain.ErrSessionNotFound):
			if uc.stores.Close(uid) {
				closed++
			}
		default:
			uc.logger.Warn("session lookup failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	return closed
}

// StartJanitor schedules Sweep.
func (uc *UseCase) StartJanitor() error {
	cronLogger := appLogger.Cron(uc.logger)
	uc.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	_, err := uc.cron.AddFunc(uc.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n := uc.Sweep(ctx); n > 0 {
			uc.logger.Info("closed expired sessions", zap.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	uc.cron.Start()
	return nil
}

// StopJanitor waits for a running sweep or ctx.
func (uc *UseCase) StopJanitor(ctx context.Context) error {
	if uc.cron == nil {
		return nil
	}
	select {
	case <-uc.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toSet(values []string, normalize func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if normalize != nil {
			v = normalize(v)
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
