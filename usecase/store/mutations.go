package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/repository"
)

// CompletedMessage is the celebration message raised when a task is completed.
const CompletedMessage = "Task completed! Keep the streak going."

// ErrStreakNotRecorded marks a completion that committed while its streak update did not.
var ErrStreakNotRecorded = errors.New("streak not recorded")

// owner returns the active identity's uid; mutations without one are silent no-ops.
func (s *Store) owner() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return "", false
	}
	return s.identity.UID, true
}

// AddTask creates a task and returns its id. Without an active identity it does nothing.
func (s *Store) AddTask(ctx context.Context, draft domain.TaskDraft) (string, error) {
	uid, ok := s.owner()
	if !ok {
		return "", nil
	}
	draft.Reminder = draft.Reminder.Normalize()
	if err := draft.Validate(); err != nil {
		return "", err
	}

	fields := repository.Fields{
		"title":        strings.TrimSpace(draft.Title),
		"description":  draft.Description,
		"dueDate":      draft.DueDate.String(),
		"priority":     string(draft.Priority),
		"completed":    false,
		"completedAt":  nil,
		"reminder":     string(draft.Reminder),
		"reminderSent": false,
		"createdAt":    repository.ServerTimestamp,
	}
	id, err := s.docs.Add(ctx, tasksRef(uid), fields)
	if err != nil {
		return "", storeFailure("add task", err)
	}

	s.celebrate(s.randomQuote())
	return id, nil
}

// UpdateTask merges patch into the stored task. A changed due date or reminder re-arms the reminder.
func (s *Store) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	changes := repository.Fields{}
	if patch.Title != nil {
		changes["title"] = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		changes["description"] = *patch.Description
	}
	if patch.DueDate != nil {
		changes["dueDate"] = patch.DueDate.String()
	}
	if patch.Priority != nil {
		changes["priority"] = string(*patch.Priority)
	}
	if patch.Reminder != nil {
		changes["reminder"] = string(patch.Reminder.Normalize())
	}

	err := s.docs.Transform(ctx, tasksRef(uid).Doc(id), func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		next := repository.Merge(current, changes)
		var stored domain.Task
		if err := repository.FromFields(current, &stored); err != nil {
			return nil, err
		}
		if patch.ReschedulesReminder(&stored) {
			next["reminderSent"] = false
		}
		return next, nil
	})
	if err != nil {
		return taskFailure("update task", err)
	}
	return nil
}

// ToggleTaskCompletion flips completion atomically. Completing a task credits the streak and
// raises a celebration; un-completing never rolls the streak back.
//
// If the streak write fails after the toggle committed, the task stays completed and the
// returned error wraps ErrStreakNotRecorded. Toggling again would un-complete the task.
func (s *Store) ToggleTaskCompletion(ctx context.Context, id string) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}

	completed := false
	err := s.docs.Transform(ctx, tasksRef(uid).Doc(id), func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		done, _ := current["completed"].(bool)
		completed = !done
		next := repository.Merge(current, nil)
		next["completed"] = completed
		if completed {
			next["completedAt"] = repository.ServerTimestamp
		} else {
			next["completedAt"] = nil
		}
		return next, nil
	})
	if err != nil {
		return taskFailure("toggle task", err)
	}
	if !completed {
		return nil
	}

	s.celebrate(CompletedMessage)
	if err := s.recordCompletion(ctx, uid); err != nil {
		s.logger.Error("failed to record streak", zap.String("uid", uid), zap.String("task_id", id), zap.Error(err))
		return domain.WrapError(domain.ErrCodeUnavailable, "task completed but streak not recorded",
			errors.Join(ErrStreakNotRecorded, err))
	}
	return nil
}

// recordCompletion credits today on the user aggregate inside an atomic transform.
func (s *Store) recordCompletion(ctx context.Context, uid string) error {
	today := s.today()
	return s.docs.Transform(ctx, userRef(uid), func(current repository.Fields) (repository.Fields, error) {
		var agg domain.UserAggregate
		if current != nil {
			if err := repository.FromFields(current, &agg); err != nil {
				return nil, err
			}
		}
		if agg.LastCompletedDate != nil && agg.LastCompletedDate.Equal(today) {
			// already credited today
			return nil, nil
		}
		fields, err := repository.ToFields(agg.RecordCompletion(today))
		if err != nil {
			return nil, err
		}
		return repository.Merge(current, fields), nil
	})
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}
	if err := s.docs.Delete(ctx, tasksRef(uid).Doc(id)); err != nil {
		return taskFailure("delete task", err)
	}
	return nil
}

// MarkReminderSent records that the reminder for dueDate and reminder was delivered. When the
// task has been rescheduled since, nothing is written and the new schedule stays armed.
func (s *Store) MarkReminderSent(ctx context.Context, id string, dueDate domain.Date, reminder domain.Reminder) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}
	err := s.docs.Transform(ctx, tasksRef(uid).Doc(id), func(current repository.Fields) (repository.Fields, error) {
		if current == nil {
			return nil, repository.ErrNotFound
		}
		var stored domain.Task
		if err := repository.FromFields(current, &stored); err != nil {
			return nil, err
		}
		if !stored.DueDate.Equal(dueDate) || stored.Reminder.Normalize() != reminder.Normalize() {
			return nil, nil
		}
		next := repository.Merge(current, nil)
		next["reminderSent"] = true
		return next, nil
	})
	if err != nil {
		return taskFailure("mark reminder sent", err)
	}
	return nil
}

func (s *Store) AddNote(ctx context.Context, draft domain.NoteDraft) (string, error) {
	uid, ok := s.owner()
	if !ok {
		return "", nil
	}
	if err := draft.Validate(); err != nil {
		return "", err
	}
	id, err := s.docs.Add(ctx, notesRef(uid), repository.Fields{
		"title":     strings.TrimSpace(draft.Title),
		"content":   draft.Content,
		"createdAt": repository.ServerTimestamp,
	})
	if err != nil {
		return "", storeFailure("add note", err)
	}
	return id, nil
}

func (s *Store) UpdateNote(ctx context.Context, id string, patch domain.NotePatch) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	changes := repository.Fields{}
	if patch.Title != nil {
		changes["title"] = strings.TrimSpace(*patch.Title)
	}
	if patch.Content != nil {
		changes["content"] = *patch.Content
	}
	if err := s.docs.Update(ctx, notesRef(uid).Doc(id), changes); err != nil {
		return noteFailure("update note", err)
	}
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	uid, ok := s.owner()
	if !ok {
		return nil
	}
	if err := s.docs.Delete(ctx, notesRef(uid).Doc(id)); err != nil {
		return noteFailure("delete note", err)
	}
	return nil
}

func storeFailure(action string, err error) error {
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return err
	}
	return domain.WrapError(domain.ErrCodeUnavailable, action+" failed", err)
}

func taskFailure(action string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrTaskNotFound
	}
	return storeFailure(action, err)
}

func noteFailure(action string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrNoteNotFound
	}
	return storeFailure(action, err)
}
