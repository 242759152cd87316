// Package repotest holds the behavioural checks every DocumentStore backend must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/donote/repository"
)

const waitFor = 3 * time.Second

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) repository.DocumentStore

// RunContract exercises a DocumentStore implementation.
func RunContract(t *testing.T, newStore Factory) {
	t.Run("snapshot ordered by creation", func(t *testing.T) { testSnapshotOrder(t, newStore(t)) })
	t.Run("snapshot follows changes", func(t *testing.T) { testSnapshotFollowsChanges(t, newStore(t)) })
	t.Run("missing documents", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("server timestamp", func(t *testing.T) { testServerTimestamp(t, newStore(t)) })
	t.Run("transform is atomic", func(t *testing.T) { testTransformAtomic(t, newStore(t)) })
	t.Run("transform error aborts", func(t *testing.T) { testTransformError(t, newStore(t)) })
	t.Run("close is synchronous", func(t *testing.T) { testCloseSynchronous(t, newStore(t)) })
	t.Run("document subscription", func(t *testing.T) { testDocumentSubscription(t, newStore(t)) })
	t.Run("owners are isolated", func(t *testing.T) { testOwnerIsolation(t, newStore(t)) })
}

// Recorder collects snapshots delivered to a subscription.
type Recorder struct {
	mu    sync.Mutex
	snaps [][]repository.Document
	errs  []error
}

func (r *Recorder) Snapshot(docs []repository.Document, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
		return
	}
	r.snaps = append(r.snaps, docs)
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *Recorder) Last() []repository.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

// WaitFor blocks until the latest snapshot satisfies cond.
func (r *Recorder) WaitFor(t *testing.T, cond func([]repository.Document) bool) []repository.Document {
	t.Helper()
	var last []repository.Document
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.snaps) == 0 {
			return false
		}
		last = r.snaps[len(r.snaps)-1]
		return cond(last)
	}, waitFor, 10*time.Millisecond)
	return last
}

func ids(docs []repository.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func collection(owner string) repository.CollectionRef {
	return repository.CollectionRef{Owner: owner, Collection: "tasks"}
}

func testSnapshotOrder(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1")

	first, err := store.Add(ctx, ref, repository.Fields{"title": "first"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := store.Add(ctx, ref, repository.Fields{"title": "second"})
	require.NoError(t, err)

	rec := &Recorder{}
	sub, err := store.Subscribe(ctx, ref, rec.Snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	docs := rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 2 })
	assert.Equal(t, []string{first, second}, ids(docs))
	assert.False(t, docs[0].CreatedAt.IsZero())
	assert.False(t, docs[1].CreatedAt.Before(docs[0].CreatedAt))

	var body struct {
		Title string `json:"title"`
	}
	require.NoError(t, docs[1].Decode(&body))
	assert.Equal(t, "second", body.Title)
}

func testSnapshotFollowsChanges(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1")

	rec := &Recorder{}
	sub, err := store.Subscribe(ctx, ref, rec.Snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 0 })

	id, err := store.Add(ctx, ref, repository.Fields{"title": "draft", "done": false})
	require.NoError(t, err)
	rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 1 })

	require.NoError(t, store.Update(ctx, ref.Doc(id), repository.Fields{"title": "final"}))
	docs := rec.WaitFor(t, func(d []repository.Document) bool {
		if len(d) != 1 {
			return false
		}
		f, err := d[0].Fields()
		return err == nil && f["title"] == "final"
	})
	fields, err := docs[0].Fields()
	require.NoError(t, err)
	assert.Equal(t, false, fields["done"], "update must merge, not replace")

	require.NoError(t, store.Delete(ctx, ref.Doc(id)))
	rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 0 })
}

func testMissing(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1").Doc("does-not-exist")

	err := store.Update(ctx, ref, repository.Fields{"title": "x"})
	assert.True(t, errors.Is(err, repository.ErrNotFound), "update: %v", err)

	err = store.Delete(ctx, ref)
	assert.True(t, errors.Is(err, repository.ErrNotFound), "delete: %v", err)
}

func testServerTimestamp(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1")
	before := time.Now().Add(-time.Minute)

	id, err := store.Add(ctx, ref, repository.Fields{"createdAt": repository.ServerTimestamp})
	require.NoError(t, err)

	rec := &Recorder{}
	sub, err := store.Subscribe(ctx, ref, rec.Snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	docs := rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 1 })
	require.Equal(t, id, docs[0].ID)
	var body struct {
		CreatedAt time.Time `json:"createdAt"`
	}
	require.NoError(t, docs[0].Decode(&body))
	assert.True(t, body.CreatedAt.After(before), "createdAt %v", body.CreatedAt)
}

func testTransformAtomic(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := repository.CollectionRef{Owner: "u1", Collection: "users"}.Doc("u1")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Transform(ctx, ref, func(current repository.Fields) (repository.Fields, error) {
				n := 0.0
				if current != nil {
					n, _ = current["count"].(float64)
				}
				return repository.Fields{"count": n + 1}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := make(chan float64, 1)
	sub, err := store.SubscribeDocument(ctx, ref, func(doc *repository.Document, err error) {
		if err != nil || doc == nil {
			return
		}
		f, err := doc.Fields()
		if err != nil {
			return
		}
		n, _ := f["count"].(float64)
		select {
		case got <- n:
		default:
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	select {
	case n := <-got:
		assert.Equal(t, float64(workers), n)
	case <-time.After(waitFor):
		t.Fatal("no document snapshot")
	}
}

func testTransformError(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1")
	id, err := store.Add(ctx, ref, repository.Fields{"title": "keep"})
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	err = store.Transform(ctx, ref.Doc(id), func(repository.Fields) (repository.Fields, error) {
		return repository.Fields{"title": "lost"}, boom
	})
	require.ErrorIs(t, err, boom)

	err = store.Transform(ctx, ref.Doc("absent"), func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		return current, nil
	})
	require.ErrorIs(t, err, repository.ErrNotFound)

	rec := &Recorder{}
	sub, err := store.Subscribe(ctx, ref, rec.Snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	docs := rec.WaitFor(t, func(d []repository.Document) bool { return len(d) == 1 })
	fields, err := docs[0].Fields()
	require.NoError(t, err)
	assert.Equal(t, "keep", fields["title"])
}

func testCloseSynchronous(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := collection("u1")

	var calls atomic.Int32
	sub, err := store.Subscribe(ctx, ref, func([]repository.Document, error) { calls.Add(1) })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() > 0 }, waitFor, 10*time.Millisecond)

	require.NoError(t, sub.Close())
	after := calls.Load()

	for i := 0; i < 3; i++ {
		_, err := store.Add(ctx, ref, repository.Fields{"title": "late"})
		require.NoError(t, err)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.NoError(t, sub.Close(), "second close is a no-op")
}

func testDocumentSubscription(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()
	ref := repository.CollectionRef{Owner: "u1", Collection: "users"}.Doc("u1")

	var mu sync.Mutex
	var seen []*repository.Document
	sub, err := store.SubscribeDocument(ctx, ref, func(doc *repository.Document, err error) {
		assert.NoError(t, err)
		mu.Lock()
		seen = append(seen, doc)
		mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[0] == nil
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, store.Transform(ctx, ref, func(repository.Fields) (repository.Fields, error) {
		return repository.Fields{"streak": 1}, nil
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := seen[len(seen)-1]
		return last != nil && last.ID == "u1"
	}, waitFor, 10*time.Millisecond)
}

func testOwnerIsolation(t *testing.T, store repository.DocumentStore) {
	ctx := context.Background()

	_, err := store.Add(ctx, collection("alice"), repository.Fields{"title": "a"})
	require.NoError(t, err)
	_, err = store.Add(ctx, collection("bob"), repository.Fields{"title": "b"})
	require.NoError(t, err)

	rec := &Recorder{}
	sub, err := store.Subscribe(ctx, collection("alice"), rec.Snapshot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	docs := rec.WaitFor(t, func(d []repository.Document) bool { return len(d) > 0 })
	require.Len(t, docs, 1)
	fields, err := docs[0].Fields()
	require.NoError(t, err)
	assert.Equal(t, "a", fields["title"])
}
