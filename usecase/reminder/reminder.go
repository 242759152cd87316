// Package reminder fires due-date reminders for the tasks of every open store.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/internal/notify"
	appLogger "github.com/fastygo/donote/pkg/logger"
	"github.com/fastygo/donote/usecase/store"
)

const (
	DefaultSchedule = "@every 1m"
	DefaultHour     = 9
)

// Source lists the stores to scan.
type Source interface {
	Snapshot() []*store.Store
}

// ConnectionHealth abstracts the connection monitor.
type ConnectionHealth interface {
	IsOnline() bool
}

// Checker scans open stores on a cron schedule and notifies about due tasks.
type Checker struct {
	source   Source
	notifier notify.Notifier
	monitor  ConnectionHealth
	logger   *zap.Logger
	now      func() time.Time
	schedule string
	hour     int
	timeout  time.Duration
	cron     *cron.Cron
}

type Option func(*Checker)

func WithSchedule(spec string) Option {
	return func(c *Checker) {
		if spec != "" {
			c.schedule = spec
		}
	}
}

// WithHour sets the local hour from which a task due today is reminded.
func WithHour(hour int) Option {
	return func(c *Checker) {
		if hour >= 0 && hour < 24 {
			c.hour = hour
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHealth skips ticks while the monitor reports the backends offline.
func WithHealth(monitor ConnectionHealth) Option {
	return func(c *Checker) {
		c.monitor = monitor
	}
}

func New(source Source, notifier notify.Notifier, opts ...Option) *Checker {
	c := &Checker{
		source:   source,
		notifier: notifier,
		logger:   zap.NewNop(),
		now:      time.Now,
		schedule: DefaultSchedule,
		hour:     DefaultHour,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	cronLogger := appLogger.Cron(c.logger)
	c.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	return c
}

// Start schedules the checker.
func (c *Checker) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.tick); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("reminder checker started", zap.String("schedule", c.schedule), zap.Int("hour", c.hour))
	return nil
}

// Stop waits for a running check to finish or ctx to expire.
func (c *Checker) Stop(ctx context.Context) error {
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("reminder checker stopped")
	return nil
}

func (c *Checker) tick() {
	if c.monitor != nil && !c.monitor.IsOnline() {
		c.logger.Debug("skipping reminder check (offline)")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if sent := c.Check(ctx); sent > 0 {
		c.logger.Info("reminders sent", zap.Int("count", sent))
	}
}

// Check notifies about every due task once and returns how many reminders were delivered.
func (c *Checker) Check(ctx context.Context) int {
	sent := 0
	now := c.now()
	for _, st := range c.source.Snapshot() {
		identity := st.Identity()
		if identity == nil {
			continue
		}
		for _, task := range st.Tasks() {
			if ctx.Err() != nil {
				return sent
			}
			if !Due(task, now, st.Location(), c.hour) {
				continue
			}
			if c.deliver(ctx, st, identity.UID, task, now) {
				sent++
			}
		}
	}
	return sent
}

func (c *Checker) deliver(ctx context.Context, st *store.Store, uid string, task domain.Task, now time.Time) bool {
	err := c.notifier.Notify(ctx, notify.ForTask(uid, task, now))
	switch {
	case errors.Is(err, notify.ErrPermissionDenied), errors.Is(err, notify.ErrUnavailable):
		return false
	case err != nil:
		c.logger.Warn("reminder delivery failed", zap.String("uid", uid), zap.String("task_id", task.ID), zap.Error(err))
		return false
	}
	if err := st.MarkReminderSent(ctx, task.ID, task.DueDate, task.Reminder); err != nil {
		c.logger.Warn("failed to mark reminder sent", zap.String("uid", uid), zap.String("task_id", task.ID), zap.Error(err))
	}
	return true
}

// Due reports whether the task's reminder should fire at now. A task due today fires once the
// local hour is reached; an overdue task fires immediately.
func Due(task domain.Task, now time.Time, loc *time.Location, hour int) bool {
	if task.Reminder != domain.ReminderOnDueDate || task.Completed || task.ReminderSent {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := domain.DateOf(local, loc)
	switch {
	case task.DueDate.Before(today):
		return true
	case task.DueDate.Equal(today):
		return local.Hour() >= hour
	}
	return false
}
