// Package registry keeps one live store per signed-in identity.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/usecase/store"
)

// Factory builds an inert store for an identity.
type Factory func(identity domain.Identity) *store.Store

// Registry owns the stores of all active sessions.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	mu     sync.Mutex
	stores map[string]*store.Store
}

func New(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		stores:  make(map[string]*store.Store),
	}
}

// Open starts the identity's store, or refreshes its profile when it is already open.
func (r *Registry) Open(ctx context.Context, identity domain.Identity) (*store.Store, error) {
	if !identity.Valid() {
		return nil, domain.ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stores[identity.UID]; ok {
		if err := st.Start(ctx, identity); err != nil {
			return nil, err
		}
		return st, nil
	}

	st := r.factory(identity)
	if err := st.Start(ctx, identity); err != nil {
		st.Stop()
		return nil, err
	}
	r.stores[identity.UID] = st
	r.logger.Info("store opened", zap.String("uid", identity.UID), zap.Int("open_stores", len(r.stores)))
	return st, nil
}

// Get returns the open store of uid.
func (r *Registry) Get(uid string) (*store.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[uid]
	return st, ok
}

// Close stops and forgets the store of uid. It reports whether a store was open.
func (r *Registry) Close(uid string) bool {
	r.mu.Lock()
	st, ok := r.stores[uid]
	delete(r.stores, uid)
	r.mu.Unlock()
	if !ok {
		return false
	}
	st.Stop()
	r.logger.Info("store closed", zap.String("uid", uid))
	return true
}

// UIDs lists the identities with an open store, sorted.
func (r *Registry) UIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.stores))
	for uid := range r.stores {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Snapshot returns the open stores ordered by uid.
func (r *Registry) Snapshot() []*store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.stores))
	for uid := range r.stores {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	out := make([]*store.Store, 0, len(uids))
	for _, uid := range uids {
		out = append(out, r.stores[uid])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// CloseAll stops every store. It matches lifecycle.ShutdownFunc.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*store.Store)
	r.mu.Unlock()

	for uid, st := range stores {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.Stop()
		r.logger.Debug("store closed", zap.String("uid", uid))
	}
	return nil
}
