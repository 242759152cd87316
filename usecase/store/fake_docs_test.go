package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/fastygo/donote/repository"
)

// fakeDocs is an in-memory DocumentStore that delivers snapshots synchronously after each write.
type fakeDocs struct {
	mu     sync.Mutex
	now    func() time.Time
	seq    int
	data   map[string]map[string]fakeDoc
	subs   map[*fakeSub]struct{}
	writes int
	err    error
	failOn map[string]error
}

type fakeDoc struct {
	fields    repository.Fields
	createdAt time.Time
}

type fakeSub struct {
	mu       sync.Mutex
	closed   bool
	key      string
	docID    string
	snapshot repository.SnapshotFunc
	document repository.DocumentFunc
	owner    *fakeDocs
}

func newFakeDocs(now func() time.Time) *fakeDocs {
	return &fakeDocs{
		now:    now,
		data:   make(map[string]map[string]fakeDoc),
		subs:   make(map[*fakeSub]struct{}),
		failOn: make(map[string]error),
	}
}

func (f *fakeDocs) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeDocs) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// FailCollection makes transforms of documents in the collection key fail with err.
func (f *fakeDocs) FailCollection(key string, err error) {
	f.mu.Lock()
	f.failOn[key] = err
	f.mu.Unlock()
}

func (f *fakeDocs) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Emit pushes the current state to every open subscriber of key.
func (f *fakeDocs) Emit(key string) {
	f.mu.Lock()
	var targets []*fakeSub
	for sub := range f.subs {
		if sub.key == key {
			targets = append(targets, sub)
		}
	}
	f.mu.Unlock()
	for _, sub := range targets {
		sub.deliver()
	}
}

func (f *fakeDocs) Ping(context.Context) error { return nil }

func (f *fakeDocs) Subscribe(_ context.Context, ref repository.CollectionRef, fn repository.SnapshotFunc) (repository.Subscription, error) {
	return f.subscribe(&fakeSub{key: ref.String(), snapshot: fn, owner: f})
}

func (f *fakeDocs) SubscribeDocument(_ context.Context, ref repository.DocumentRef, fn repository.DocumentFunc) (repository.Subscription, error) {
	return f.subscribe(&fakeSub{key: ref.Parent().String(), docID: ref.ID, document: fn, owner: f})
}

func (f *fakeDocs) subscribe(sub *fakeSub) (repository.Subscription, error) {
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return nil, err
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	sub.deliver()
	return sub, nil
}

func (f *fakeDocs) Add(_ context.Context, ref repository.CollectionRef, fields repository.Fields) (string, error) {
	f.mu.Lock()
	f.writes++
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("doc-%d", f.seq)
	col := f.collection(ref.String())
	now := f.now().Add(time.Duration(f.seq) * time.Microsecond)
	col[id] = fakeDoc{fields: repository.Resolve(fields, now), createdAt: now}
	f.mu.Unlock()
	f.Emit(ref.String())
	return id, nil
}

func (f *fakeDocs) Update(ctx context.Context, ref repository.DocumentRef, fields repository.Fields) error {
	return f.Transform(ctx, ref, func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		return repository.Merge(current, fields), nil
	})
}

func (f *fakeDocs) Delete(_ context.Context, ref repository.DocumentRef) error {
	f.mu.Lock()
	f.writes++
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return err
	}
	col := f.collection(ref.Parent().String())
	if _, ok := col[ref.ID]; !ok {
		f.mu.Unlock()
		return repository.ErrNotFound
	}
	delete(col, ref.ID)
	f.mu.Unlock()
	f.Emit(ref.Parent().String())
	return nil
}

func (f *fakeDocs) Transform(_ context.Context, ref repository.DocumentRef, fn repository.TransformFunc) error {
	f.mu.Lock()
	f.writes++
	if err := f.err; err != nil {
		f.mu.Unlock()
		return err
	}
	if err := f.failOn[ref.Parent().String()]; err != nil {
		f.mu.Unlock()
		return err
	}
	col := f.collection(ref.Parent().String())
	existing, ok := col[ref.ID]
	var current repository.Fields
	if ok {
		current = roundTrip(existing.fields)
	}
	next, err := fn(current)
	if err != nil || next == nil {
		f.mu.Unlock()
		return err
	}
	f.seq++
	now := f.now().Add(time.Duration(f.seq) * time.Microsecond)
	createdAt := existing.createdAt
	if !ok {
		createdAt = now
	}
	col[ref.ID] = fakeDoc{fields: repository.Resolve(next, now), createdAt: createdAt}
	f.mu.Unlock()
	f.Emit(ref.Parent().String())
	return nil
}

func (f *fakeDocs) collection(key string) map[string]fakeDoc {
	col, ok := f.data[key]
	if !ok {
		col = make(map[string]fakeDoc)
		f.data[key] = col
	}
	return col
}

func (s *fakeSub) deliver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	f := s.owner
	f.mu.Lock()
	col := f.data[s.key]
	var docs []repository.Document
	var single *repository.Document
	for id, d := range col {
		data, _ := sonic.Marshal(d.fields)
		doc := repository.Document{ID: id, Data: data, CreatedAt: d.createdAt}
		if s.docID != "" && id == s.docID {
			single = &doc
		}
		docs = append(docs, doc)
	}
	f.mu.Unlock()

	if s.document != nil {
		s.document(single, nil)
		return
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	s.snapshot(docs, nil)
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	return nil
}

// roundTrip gives the transform the JSON view a real backend would.
func roundTrip(fields repository.Fields) repository.Fields {
	data, _ := sonic.Marshal(fields)
	out, _ := repository.DecodeFields(data)
	return out
}
