package store

import (
	"math/rand/v2"
	"time"

	"github.com/fastygo/donote/domain"
)

// DefaultQuotes are shown when a task is added.
var DefaultQuotes = []string{
	"The secret of getting ahead is getting started.",
	"A goal without a plan is just a wish.",
	"The journey of a thousand miles begins with a single step.",
	"Well begun is half done.",
}

type celebrationState struct {
	domain.Celebration
	seq   uint64
	timer *time.Timer
}

// Celebration returns the current one-shot signal.
func (s *Store) Celebration() domain.Celebration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.celebration.Celebration
}

// DismissCelebration clears the signal before its timeout.
func (s *Store) DismissCelebration() {
	s.mu.Lock()
	active := s.celebration.Active
	s.clearCelebrationLocked()
	s.mu.Unlock()
	if active {
		s.notify()
	}
}

// celebrate raises the signal and schedules its automatic clear. It never blocks the caller.
func (s *Store) celebrate(message string) {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return
	}
	if s.celebration.timer != nil {
		s.celebration.timer.Stop()
	}
	seq := s.celebration.seq + 1
	s.celebration = celebrationState{
		Celebration: domain.Celebration{Active: true, Message: message, RaisedAt: s.now()},
		seq:         seq,
	}
	s.celebration.timer = time.AfterFunc(s.celebrationTTL, func() { s.expireCelebration(seq) })
	s.mu.Unlock()
	s.notify()
}

func (s *Store) expireCelebration(seq uint64) {
	s.mu.Lock()
	if s.celebration.seq != seq || !s.celebration.Active {
		s.mu.Unlock()
		return
	}
	s.clearCelebrationLocked()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) clearCelebrationLocked() {
	if s.celebration.timer != nil {
		s.celebration.timer.Stop()
	}
	s.celebration = celebrationState{seq: s.celebration.seq}
}

func (s *Store) randomQuote() string {
	if len(s.quotes) == 0 {
		return ""
	}
	return s.quotes[s.pick(len(s.quotes))]
}

func randomIndex(n int) int {
	return rand.IntN(n)
}
