// Package notify delivers task reminders to signed-in users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
)

var (
	// ErrPermissionDenied means the user has not opted in to reminders.
	ErrPermissionDenied = errors.New("notify: permission denied")
	// ErrUnavailable means no delivery channel is reachable right now.
	ErrUnavailable = errors.New("notify: unavailable")
)

// Notification is a single reminder for a task.
type Notification struct {
	UserID  string      `json:"userId"`
	TaskID  string      `json:"taskId"`
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	DueDate domain.Date `json:"dueDate"`
	SentAt  time.Time   `json:"sentAt"`
}

// ForTask builds the reminder for a task due on its due date.
func ForTask(uid string, task domain.Task, now time.Time) Notification {
	body := "Due today"
	if task.Description != "" {
		body = task.Description
	}
	return Notification{
		UserID:  uid,
		TaskID:  task.ID,
		Title:   task.Title,
		Body:    body,
		DueDate: task.DueDate,
		SentAt:  now.UTC(),
	}
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("task reminder",
		zap.String("uid", n.UserID),
		zap.String("task_id", n.TaskID),
		zap.String("title", n.Title),
		zap.String("due_date", n.DueDate.String()),
	)
	return nil
}

// Multi fans a notification out to every notifier. It succeeds when any delivery succeeds.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	if len(m) == 0 {
		return ErrUnavailable
	}
	var errs []error
	for _, notifier := range m {
		err := notifier.Notify(ctx, n)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrPermissionDenied) {
			return fmt.Errorf("notify %s: %w", n.TaskID, errors.Join(errs...))
		}
	}
	return ErrPermissionDenied
}
