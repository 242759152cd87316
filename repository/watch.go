package repository

import (
	"context"
	"sync"
)

// Watcher runs a delivery once on start and again after every Signal until it is closed.
// Signals that arrive while a delivery is running coalesce into one follow-up delivery.
type Watcher struct {
	mu     sync.Mutex
	closed bool

	signal  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	cleanup []func()
}

// Watch starts a watcher. deliver runs on the watcher's goroutine; it should skip
// calling back into subscribers when ctx is already cancelled.
func Watch(ctx context.Context, deliver func(ctx context.Context)) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	w.signal <- struct{}{}
	go w.run(ctx, deliver)
	return w
}

func (w *Watcher) run(ctx context.Context, deliver func(context.Context)) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
			w.mu.Lock()
			if !w.closed {
				deliver(ctx)
			}
			w.mu.Unlock()
		}
	}
}

// Signal schedules a delivery without blocking.
func (w *Watcher) Signal() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// OnClose registers fn to run after the watcher stopped.
func (w *Watcher) OnClose(fn func()) {
	w.mu.Lock()
	w.cleanup = append(w.cleanup, fn)
	w.mu.Unlock()
}

// Done is closed when the watcher's goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) Close() error {
	w.once.Do(func() {
		w.cancel()
		w.mu.Lock()
		w.closed = true
		cleanup := w.cleanup
		w.cleanup = nil
		w.mu.Unlock()
		<-w.done
		for _, fn := range cleanup {
			fn()
		}
	})
	return nil
}

// Hub fans change signals out to in-process watchers keyed by collection or document.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*Watcher]struct{}
}

func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*Watcher]struct{})}
}

// Register attaches w to key until w is closed.
func (h *Hub) Register(key string, w *Watcher) {
	h.mu.Lock()
	set, ok := h.watchers[key]
	if !ok {
		set = make(map[*Watcher]struct{})
		h.watchers[key] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()
	// cover changes committed between the watcher's first load and registration
	w.Signal()

	w.OnClose(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[key], w)
		if len(h.watchers[key]) == 0 {
			delete(h.watchers, key)
		}
	})
}

// Notify signals every watcher registered under key.
func (h *Hub) Notify(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[key] {
		w.Signal()
	}
}

// NotifyAll signals every registered watcher, used after a change feed reconnects.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.watchers {
		for w := range set {
			w.Signal()
		}
	}
}

// Len returns the number of registered watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.watchers {
		n += len(set)
	}
	return n
}
