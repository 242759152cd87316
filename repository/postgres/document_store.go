package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastygo/donote/repository"
)

// ChangeChannel is the NOTIFY channel the documents trigger publishes "<owner>/<collection>" on.
const ChangeChannel = "donote_documents"

// DocumentStore keeps documents in a single jsonb table. A trigger announces every change
// over LISTEN/NOTIFY; one pooled connection listens and fans changes out to subscribers.
type DocumentStore struct {
	pool   *pgxpool.Pool
	hub    *repository.Hub
	logger *zap.Logger

	listenerOnce sync.Once
	closeOnce    sync.Once
	stop         context.CancelFunc
	stopped      chan struct{}
}

// NewDocumentStore returns a Postgres-backed live document store.
func NewDocumentStore(pool *pgxpool.Pool, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{
		pool:    pool,
		hub:     repository.NewHub(),
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

var _ repository.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close stops the change listener and keeps it from starting again. It is safe to call
// more than once. The pool is owned by the caller.
func (s *DocumentStore) Close() {
	s.closeOnce.Do(func() {
		s.listenerOnce.Do(func() {})
		if s.stop == nil {
			return
		}
		s.stop()
		<-s.stopped
	})
}

func (s *DocumentStore) Subscribe(ctx context.Context, ref repository.CollectionRef, fn repository.SnapshotFunc) (repository.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	s.ensureListener()
	w := repository.Watch(context.WithoutCancel(ctx), func(ctx context.Context) {
		docs, err := s.load(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	})
	s.hub.Register(ref.String(), w)
	return w, nil
}

func (s *DocumentStore) SubscribeDocument(ctx context.Context, ref repository.DocumentRef, fn repository.DocumentFunc) (repository.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	s.ensureListener()
	w := repository.Watch(context.WithoutCancel(ctx), func(ctx context.Context) {
		doc, err := s.get(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	})
	s.hub.Register(ref.Parent().String(), w)
	return w, nil
}

func (s *DocumentStore) Add(ctx context.Context, ref repository.CollectionRef, fields repository.Fields) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now, err := serverNow(ctx, tx)
		if err != nil {
			return err
		}
		data, err := repository.EncodeFields(fields, now)
		if err != nil {
			return err
		}
		const query = `
		INSERT INTO documents (owner, collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		`
		_, err = tx.Exec(ctx, query, ref.Owner, ref.Collection, id, data, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("add document to %s: %w", ref, err)
	}
	return id, nil
}

func (s *DocumentStore) Update(ctx context.Context, ref repository.DocumentRef, fields repository.Fields) error {
	return s.Transform(ctx, ref, func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		return repository.Merge(current, fields), nil
	})
}

func (s *DocumentStore) Delete(ctx context.Context, ref repository.DocumentRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	const query = `DELETE FROM documents WHERE owner = $1 AND collection = $2 AND id = $3`
	tag, err := s.pool.Exec(ctx, query, ref.Owner, ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Transform serializes writers of one document with a transaction-scoped advisory lock,
// which also covers the case where the row does not exist yet.
//
// Writes do not signal subscribers directly; the documents trigger announces every committed
// change, including those made by other instances.
func (s *DocumentStore) Transform(ctx context.Context, ref repository.DocumentRef, fn repository.TransformFunc) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ref.String()); err != nil {
			return err
		}
		now, err := serverNow(ctx, tx)
		if err != nil {
			return err
		}

		const selectQuery = `
		SELECT data FROM documents
		WHERE owner = $1 AND collection = $2 AND id = $3
		FOR UPDATE
		`
		var raw []byte
		var current repository.Fields
		err = tx.QueryRow(ctx, selectQuery, ref.Owner, ref.Collection, ref.ID).Scan(&raw)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			if current, err = repository.DecodeFields(raw); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		data, err := repository.EncodeFields(next, now)
		if err != nil {
			return err
		}

		const upsertQuery = `
		INSERT INTO documents (owner, collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (owner, collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		`
		_, err = tx.Exec(ctx, upsertQuery, ref.Owner, ref.Collection, ref.ID, data, now)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("transform %s: %w", ref, err)
	}
	return nil
}

func (s *DocumentStore) load(ctx context.Context, ref repository.CollectionRef) ([]repository.Document, error) {
	const query = `
	SELECT id, data, created_at
	FROM documents
	WHERE owner = $1 AND collection = $2
	ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, ref.Owner, ref.Collection)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	defer rows.Close()

	docs := []repository.Document{}
	for rows.Next() {
		var doc repository.Document
		if err := rows.Scan(&doc.ID, &doc.Data, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ref, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) get(ctx context.Context, ref repository.DocumentRef) (*repository.Document, error) {
	const query = `
	SELECT id, data, created_at
	FROM documents
	WHERE owner = $1 AND collection = $2 AND id = $3
	`
	var doc repository.Document
	err := s.pool.QueryRow(ctx, query, ref.Owner, ref.Collection, ref.ID).Scan(&doc.ID, &doc.Data, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", ref, err)
	}
	return &doc, nil
}

func (s *DocumentStore) ensureListener() {
	s.listenerOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		go s.listen(ctx)
	})
}

// listen holds one connection in LISTEN mode and reconnects after failures.
func (s *DocumentStore) listen(ctx context.Context) {
	defer close(s.stopped)
	for {
		err := s.listenSession(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("postgres change listener stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *DocumentStore) listenSession(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	// changes may have been missed while disconnected
	s.hub.NotifyAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				return err
			}
			// the connection is mid-wait; drop it instead of returning it to the pool
			_ = conn.Conn().Close(context.Background())
			return err
		}
		ref, ok := parseChangePayload(n.Payload)
		if !ok {
			s.logger.Warn("ignoring malformed change notification", zap.String("payload", n.Payload))
			continue
		}
		s.hub.Notify(ref.String())
	}
}
