package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/donote/repository"
)

const (
	defaultPrefix     = "donote:"
	defaultMaxRetries = 16
)

// DocumentStore keeps documents as JSON strings, a creation-ordered sorted set per collection
// and a pub/sub channel per collection announcing committed changes.
type DocumentStore struct {
	client     *redislib.Client
	prefix     string
	maxRetries int
	logger     *zap.Logger
}

type Option func(*DocumentStore)

func WithPrefix(prefix string) Option {
	return func(s *DocumentStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(s *DocumentStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *DocumentStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocumentStore creates a Redis-backed live document store.
func NewDocumentStore(client *redislib.Client, opts ...Option) *DocumentStore {
	s := &DocumentStore{
		client:     client,
		prefix:     defaultPrefix,
		maxRetries: defaultMaxRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *DocumentStore) Subscribe(ctx context.Context, ref repository.CollectionRef, fn repository.SnapshotFunc) (repository.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.watch(ctx, ref, func(ctx context.Context) {
		docs, err := s.load(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	})
}

func (s *DocumentStore) SubscribeDocument(ctx context.Context, ref repository.DocumentRef, fn repository.DocumentFunc) (repository.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.watch(ctx, ref.Parent(), func(ctx context.Context) {
		doc, err := s.get(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	})
}

// watch subscribes to the collection channel before the first delivery so no change is missed.
func (s *DocumentStore) watch(ctx context.Context, ref repository.CollectionRef, deliver func(context.Context)) (repository.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(ref))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ref, err)
	}

	w := repository.Watch(context.WithoutCancel(ctx), deliver)
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-w.Done():
				return
			case _, ok := <-messages:
				if !ok {
					s.logger.Warn("redis change channel closed", zap.String("collection", ref.String()))
					return
				}
				w.Signal()
			}
		}
	}()
	w.OnClose(func() { _ = pubsub.Close() })
	return w, nil
}

func (s *DocumentStore) Add(ctx context.Context, ref repository.CollectionRef, fields repository.Fields) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	now, err := s.now(ctx)
	if err != nil {
		return "", err
	}
	data, err := repository.EncodeFields(fields, now)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	doc := ref.Doc(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
		pipe.Set(ctx, s.docKey(doc), data, 0)
		pipe.ZAdd(ctx, s.indexKey(ref), redislib.Z{Score: float64(now.UnixMicro()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("add document to %s: %w", ref, err)
	}
	s.publish(ctx, ref, id)
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
	var del *redislib.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(ref))
		pipe.ZRem(ctx, s.indexKey(ref.Parent()), ref.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", ref, err)
	}
	if del.Val() == 0 {
		return repository.ErrNotFound
	}
	s.publish(ctx, ref.Parent(), ref.ID)
	return nil
}

// Transform runs fn under WATCH and retries when another client modified the document first.
func (s *DocumentStore) Transform(ctx context.Context, ref repository.DocumentRef, fn repository.TransformFunc) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	key := s.docKey(ref)
	changed := false

	txf := func(tx *redislib.Tx) error {
		changed = false
		raw, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redislib.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		var current repository.Fields
		if exists {
			if current, err = repository.DecodeFields(raw); err != nil {
				return err
			}
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		now, err := s.now(ctx)
		if err != nil {
			return err
		}
		data, err := repository.EncodeFields(next, now)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if !exists {
				pipe.ZAdd(ctx, s.indexKey(ref.Parent()), redislib.Z{Score: float64(now.UnixMicro()), Member: ref.ID})
			}
			return nil
		})
		if err == nil {
			changed = true
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redislib.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return err
			}
			return fmt.Errorf("transform %s: %w", ref, err)
		}
		if changed {
			s.publish(ctx, ref.Parent(), ref.ID)
		}
		return nil
	}
	return fmt.Errorf("transform %s: %w", ref, repository.ErrAborted)
}

func (s *DocumentStore) load(ctx context.Context, ref repository.CollectionRef) ([]repository.Document, error) {
	entries, err := s.client.ZRangeWithScores(ctx, s.indexKey(ref), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", ref, err)
	}
	if len(entries) == 0 {
		return []repository.Document{}, nil
	}

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = s.docKey(ref.Doc(entry.Member.(string)))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load documents %s: %w", ref, err)
	}

	docs := make([]repository.Document, 0, len(entries))
	for i, entry := range entries {
		raw, ok := values[i].(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		docs = append(docs, repository.Document{
			ID:        entry.Member.(string),
			Data:      []byte(raw),
			CreatedAt: time.UnixMicro(int64(entry.Score)).UTC(),
		})
	}
	return docs, nil
}

func (s *DocumentStore) get(ctx context.Context, ref repository.DocumentRef) (*repository.Document, error) {
	raw, err := s.client.Get(ctx, s.docKey(ref)).Bytes()
	if errors.Is(err, redislib.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", ref, err)
	}
	doc := &repository.Document{ID: ref.ID, Data: raw}
	if score, err := s.client.ZScore(ctx, s.indexKey(ref.Parent()), ref.ID).Result(); err == nil {
		doc.CreatedAt = time.UnixMicro(int64(score)).UTC()
	}
	return doc, nil
}

func (s *DocumentStore) publish(ctx context.Context, ref repository.CollectionRef, id string) {
	if err := s.client.Publish(ctx, s.channel(ref), id).Err(); err != nil {
		s.logger.Warn("publish document change failed", zap.String("collection", ref.String()), zap.Error(err))
	}
}

// now reads the server clock so timestamps do not depend on client clocks.
func (s *DocumentStore) now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("read server time: %w", err)
	}
	return t, nil
}

func (s *DocumentStore) docKey(ref repository.DocumentRef) string {
	return fmt.Sprintf("%sdoc:%s:%s:%s", s.prefix, ref.Owner, ref.Collection, ref.ID)
}

func (s *DocumentStore) indexKey(ref repository.CollectionRef) string {
	return fmt.Sprintf("%sidx:%s:%s", s.prefix, ref.Owner, ref.Collection)
}

func (s *DocumentStore) channel(ref repository.CollectionRef) string {
	return fmt.Sprintf("%schanges:%s:%s", s.prefix, ref.Owner, ref.Collection)
}
