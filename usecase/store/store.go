package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/repository"
)

// Collection names under an identity's namespace.
const (
	CollectionTasks = "tasks"
	CollectionNotes = "notes"
	CollectionUsers = "users"
)

const defaultCelebrationDuration = 4 * time.Second

// Store mirrors one identity's tasks, notes and streak aggregate from a live document store
// and writes mutations through to it. Local state changes only when a snapshot arrives.
type Store struct {
	docs           repository.DocumentStore
	now            func() time.Time
	loc            *time.Location
	logger         *zap.Logger
	celebrationTTL time.Duration
	quotes         []string
	pick           func(n int) int

	mu          sync.RWMutex
	generation  uint64
	identity    *domain.Identity
	tasks       []domain.Task
	notes       []domain.Note
	aggregate   domain.UserAggregate
	celebration celebrationState
	subs        []repository.Subscription
	cancel      context.CancelFunc

	watchMu  sync.Mutex
	watchers map[chan struct{}]struct{}
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the calendar used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCelebrationDuration(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.celebrationTTL = d
		}
	}
}

// WithQuotes replaces the motivational quotes shown after a task is added.
func WithQuotes(quotes []string, pick func(n int) int) Option {
	return func(s *Store) {
		if len(quotes) > 0 {
			s.quotes = append([]string(nil), quotes...)
		}
		if pick != nil {
			s.pick = pick
		}
	}
}

// New builds an inert store; call Start once an identity is available.
func New(docs repository.DocumentStore, opts ...Option) *Store {
	s := &Store{
		docs:           docs,
		now:            time.Now,
		loc:            time.Local,
		logger:         zap.NewNop(),
		celebrationTTL: defaultCelebrationDuration,
		quotes:         DefaultQuotes,
		pick:           randomIndex,
		watchers:       make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the task, note and aggregate subscriptions for identity. Starting again with the
// active identity only refreshes its profile; a different identity tears the previous one down first.
func (s *Store) Start(ctx context.Context, identity domain.Identity) error {
	if !identity.Valid() {
		return domain.ErrUnauthorized
	}

	s.mu.Lock()
	if s.identity != nil && s.identity.UID == identity.UID {
		s.identity = &identity
		s.mu.Unlock()
		s.notify()
		return nil
	}
	s.mu.Unlock()

	s.Stop()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.identity = &identity
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	uid := identity.UID
	logger := s.logger.With(zap.String("uid", uid))
	var subs []repository.Subscription
	fail := func(what string, err error) error {
		for _, sub := range subs {
			_ = sub.Close()
		}
		s.Stop()
		logger.Error("failed to open subscription", zap.String("subscription", what), zap.Error(err))
		return domain.WrapError(domain.ErrCodeUnavailable, fmt.Sprintf("subscribe %s", what), err)
	}

	tasksSub, err := s.docs.Subscribe(subCtx, tasksRef(uid), func(docs []repository.Document, err error) {
		s.applyTasks(gen, docs, err)
	})
	if err != nil {
		return fail(CollectionTasks, err)
	}
	subs = append(subs, tasksSub)

	notesSub, err := s.docs.Subscribe(subCtx, notesRef(uid), func(docs []repository.Document, err error) {
		s.applyNotes(gen, docs, err)
	})
	if err != nil {
		return fail(CollectionNotes, err)
	}
	subs = append(subs, notesSub)

	userSub, err := s.docs.SubscribeDocument(subCtx, userRef(uid), func(doc *repository.Document, err error) {
		s.applyAggregate(gen, doc, err)
	})
	if err != nil {
		return fail(CollectionUsers, err)
	}
	subs = append(subs, userSub)

	s.mu.Lock()
	if s.generation != gen {
		// stopped while subscribing
		s.mu.Unlock()
		for _, sub := range subs {
			_ = sub.Close()
		}
		return nil
	}
	s.subs = subs
	s.mu.Unlock()

	logger.Info("store started")
	s.notify()
	return nil
}

// Stop closes every subscription and clears local state. After Stop returns no snapshot
// from the previous identity is applied.
func (s *Store) Stop() {
	s.mu.Lock()
	s.generation++
	subs := s.subs
	cancel := s.cancel
	hadIdentity := s.identity != nil
	s.subs = nil
	s.cancel = nil
	s.identity = nil
	s.tasks = nil
	s.notes = nil
	s.aggregate = domain.UserAggregate{}
	s.clearCelebrationLocked()
	s.mu.Unlock()

	// closing outside the lock lets an in-flight callback finish and discard its snapshot
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.logger.Warn("failed to close subscription", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}
	if hadIdentity {
		s.notify()
	}
}

// Active reports whether an identity is signed in.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

func (s *Store) Identity() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// Tasks returns the mirrored tasks, newest created first.
func (s *Store) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Task{}, s.tasks...)
}

// Task returns a mirrored task by id.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Notes returns the mirrored notes, newest created first.
func (s *Store) Notes() []domain.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Note{}, s.notes...)
}

// Streak is the streak to display today; a lapsed streak reads as 0.
func (s *Store) Streak() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregate.EffectiveStreak(s.today())
}

func (s *Store) Aggregate() domain.UserAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg := s.aggregate
	agg.Streak = agg.EffectiveStreak(s.today())
	return agg
}

// Today is the current calendar day in the store's location.
func (s *Store) Today() domain.Date {
	return s.today()
}

func (s *Store) Location() *time.Location {
	return s.loc
}

// State is a consistent copy of everything the store exposes.
type State struct {
	Identity    *domain.Identity     `json:"identity"`
	Tasks       []domain.Task        `json:"tasks"`
	Notes       []domain.Note        `json:"notes"`
	Streak      int                  `json:"streak"`
	Aggregate   domain.UserAggregate `json:"aggregate"`
	Celebration domain.Celebration   `json:"celebration"`
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := State{
		Tasks:       append([]domain.Task{}, s.tasks...),
		Notes:       append([]domain.Note{}, s.notes...),
		Aggregate:   s.aggregate,
		Celebration: s.celebration.Celebration,
	}
	if s.identity != nil {
		identity := *s.identity
		state.Identity = &identity
	}
	state.Streak = s.aggregate.EffectiveStreak(s.today())
	state.Aggregate.Streak = state.Streak
	return state
}

// Watch returns a channel that receives a value after every state change, and a function
// releasing it. Notifications coalesce; readers should fetch State after each receive.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, ch)
			s.watchMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) applyTasks(gen uint64, docs []repository.Document, err error) {
	if err != nil {
		s.logger.Warn("task subscription failed, keeping last snapshot", zap.Error(err))
		return
	}
	tasks := make([]domain.Task, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		task, err := decodeTask(docs[i])
		if err != nil {
			s.logger.Warn("skipping undecodable task", zap.String("task_id", docs[i].ID), zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.tasks = tasks
	s.mu.Unlock()
	s.notify()
}

func (s *Store) applyNotes(gen uint64, docs []repository.Document, err error) {
	if err != nil {
		s.logger.Warn("note subscription failed, keeping last snapshot", zap.Error(err))
		return
	}
	notes := make([]domain.Note, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		var note domain.Note
		if err := docs[i].Decode(&note); err != nil {
			s.logger.Warn("skipping undecodable note", zap.String("note_id", docs[i].ID), zap.Error(err))
			continue
		}
		note.ID = docs[i].ID
		if note.CreatedAt.IsZero() {
			note.CreatedAt = docs[i].CreatedAt
		}
		notes = append(notes, note)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.notes = notes
	s.mu.Unlock()
	s.notify()
}

func (s *Store) applyAggregate(gen uint64, doc *repository.Document, err error) {
	if err != nil {
		s.logger.Warn("aggregate subscription failed, keeping last snapshot", zap.Error(err))
		return
	}
	var agg domain.UserAggregate
	if doc != nil {
		if err := doc.Decode(&agg); err != nil {
			s.logger.Warn("undecodable user aggregate", zap.Error(err))
			return
		}
	}
	agg.Streak = agg.EffectiveStreak(s.today())

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.aggregate = agg
	s.mu.Unlock()
	s.notify()
}

func (s *Store) today() domain.Date {
	return domain.DateOf(s.now(), s.loc)
}

func decodeTask(doc repository.Document) (domain.Task, error) {
	var task domain.Task
	if err := doc.Decode(&task); err != nil {
		return domain.Task{}, err
	}
	task.ID = doc.ID
	task.Reminder = task.Reminder.Normalize()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = doc.CreatedAt
	}
	return task, nil
}

func tasksRef(uid string) repository.CollectionRef {
	return repository.CollectionRef{Owner: uid, Collection: CollectionTasks}
}

func notesRef(uid string) repository.CollectionRef {
	return repository.CollectionRef{Owner: uid, Collection: CollectionNotes}
}

// userRef addresses the aggregate record, stored under the identity's own id.
func userRef(uid string) repository.DocumentRef {
	return repository.CollectionRef{Owner: uid, Collection: CollectionUsers}.Doc(uid)
}
