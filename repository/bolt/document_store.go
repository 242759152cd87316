package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fastygo/donote/repository"
)

var rootBucket = []byte("documents")

// envelope is the stored value: the document body plus its creation time used for ordering.
type envelope struct {
	CreatedAt time.Time              `json:"createdAt"`
	Data      sonic.NoCopyRawMessage `json:"data"`
}

// DocumentStore keeps documents in an embedded BoltDB file. Writes are serialized by bbolt,
// so transforms are atomic; change notifications fan out in-process.
type DocumentStore struct {
	db     *bolt.DB
	hub    *repository.Hub
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*DocumentStore)

func WithClock(now func() time.Time) Option {
	return func(s *DocumentStore) {
		if now != nil {
			s.now = now
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

// Open initializes the BoltDB file and ensures the root bucket exists.
func Open(path string, opts ...Option) (*DocumentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	s := &DocumentStore{
		db:     db,
		hub:    repository.NewHub(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ repository.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DocumentStore) Ping(context.Context) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(rootBucket) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

func (s *DocumentStore) Subscribe(ctx context.Context, ref repository.CollectionRef, fn repository.SnapshotFunc) (repository.Subscription, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	w := repository.Watch(context.WithoutCancel(ctx), func(ctx context.Context) {
		docs, err := s.load(ref)
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
	w := repository.Watch(context.WithoutCancel(ctx), func(ctx context.Context) {
		doc, err := s.get(ref)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	})
	s.hub.Register(ref.Parent().String(), w)
	return w, nil
}

func (s *DocumentStore) Add(_ context.Context, ref repository.CollectionRef, fields repository.Fields) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := collectionBucket(tx, ref, true)
		if err != nil {
			return err
		}
		now := s.now()
		return put(bucket, id, fields, now, now)
	})
	if err != nil {
		return "", fmt.Errorf("add document to %s: %w", ref, err)
	}
	s.hub.Notify(ref.String())
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

func (s *DocumentStore) Delete(_ context.Context, ref repository.DocumentRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := collectionBucket(tx, ref.Parent(), false)
		if err != nil {
			return err
		}
		if bucket == nil || bucket.Get([]byte(ref.ID)) == nil {
			return repository.ErrNotFound
		}
		return bucket.Delete([]byte(ref.ID))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete document %s: %w", ref, err)
	}
	s.hub.Notify(ref.Parent().String())
	return nil
}

// Transform runs fn inside a write transaction; bbolt allows one writer at a time.
func (s *DocumentStore) Transform(_ context.Context, ref repository.DocumentRef, fn repository.TransformFunc) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := collectionBucket(tx, ref.Parent(), true)
		if err != nil {
			return err
		}

		var current repository.Fields
		createdAt := s.now()
		if raw := bucket.Get([]byte(ref.ID)); raw != nil {
			env, err := decodeEnvelope(raw)
			if err != nil {
				return err
			}
			if current, err = repository.DecodeFields(env.Data); err != nil {
				return err
			}
			createdAt = env.CreatedAt
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		changed = true
		return put(bucket, ref.ID, next, createdAt, s.now())
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("transform %s: %w", ref, err)
	}
	if changed {
		s.hub.Notify(ref.Parent().String())
	}
	return nil
}

func (s *DocumentStore) load(ref repository.CollectionRef) ([]repository.Document, error) {
	docs := []repository.Document{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := collectionBucket(tx, ref, false)
		if err != nil || bucket == nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			env, err := decodeEnvelope(v)
			if err != nil {
				s.logger.Warn("skipping undecodable document", zap.String("collection", ref.String()), zap.ByteString("id", k), zap.Error(err))
				return nil
			}
			docs = append(docs, repository.Document{
				ID:        string(k),
				Data:      append([]byte(nil), env.Data...),
				CreatedAt: env.CreatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

func (s *DocumentStore) get(ref repository.DocumentRef) (*repository.Document, error) {
	var doc *repository.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := collectionBucket(tx, ref.Parent(), false)
		if err != nil || bucket == nil {
			return err
		}
		raw := bucket.Get([]byte(ref.ID))
		if raw == nil {
			return nil
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			return err
		}
		doc = &repository.Document{ID: ref.ID, Data: append([]byte(nil), env.Data...), CreatedAt: env.CreatedAt}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", ref, err)
	}
	return doc, nil
}

// collectionBucket resolves documents/<owner>/<collection>. With create=false a missing bucket yields nil.
func collectionBucket(tx *bolt.Tx, ref repository.CollectionRef, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket(rootBucket)
	if root == nil {
		return nil, bolt.ErrBucketNotFound
	}
	if !create {
		owner := root.Bucket([]byte(ref.Owner))
		if owner == nil {
			return nil, nil
		}
		return owner.Bucket([]byte(ref.Collection)), nil
	}
	owner, err := root.CreateBucketIfNotExists([]byte(ref.Owner))
	if err != nil {
		return nil, err
	}
	return owner.CreateBucketIfNotExists([]byte(ref.Collection))
}

func put(bucket *bolt.Bucket, id string, fields repository.Fields, createdAt, now time.Time) error {
	data, err := repository.EncodeFields(fields, now)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(envelope{CreatedAt: createdAt.UTC(), Data: data})
	if err != nil {
		return err
	}
	return bucket.Put([]byte(id), payload)
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}
