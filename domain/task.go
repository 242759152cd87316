package domain

import (
	"strings"
	"time"
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Reminder classifies when a reminder fires for a task.
type Reminder string

const (
	ReminderNone      Reminder = "none"
	ReminderOnDueDate Reminder = "on-due-date"
)

func (r Reminder) Valid() bool {
	return r == ReminderNone || r == ReminderOnDueDate
}

// Normalize maps the empty value to ReminderNone.
func (r Reminder) Normalize() Reminder {
	if r == "" {
		return ReminderNone
	}
	return r
}

// Task represents a user-owned to-do item.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      Date       `json:"dueDate"`
	Priority     Priority   `json:"priority"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completedAt"`
	Reminder     Reminder   `json:"reminder"`
	ReminderSent bool       `json:"reminderSent"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (t *Task) IsCompleted() bool {
	return t != nil && t.Completed
}

// TaskDraft is the input of a task creation.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DueDate     Date     `json:"dueDate"`
	Priority    Priority `json:"priority"`
	Reminder    Reminder `json:"reminder"`
}

// Validate enforces the store-level rules for a new task.
func (d TaskDraft) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(d.Title) == "" {
		fields["title"] = "title is required"
	}
	if d.DueDate.IsZero() {
		fields["dueDate"] = "a due date is required"
	}
	if !d.Priority.Valid() {
		fields["priority"] = "priority must be one of low, medium, high"
	}
	if !d.Reminder.Normalize().Valid() {
		fields["reminder"] = "reminder must be one of none, on-due-date"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// TaskPatch carries the fields of a partial task update. Nil means "leave unchanged".
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	DueDate     *Date     `json:"dueDate,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Reminder    *Reminder `json:"reminder,omitempty"`
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil && p.Priority == nil && p.Reminder == nil
}

func (p TaskPatch) Validate() error {
	if p.Empty() {
		return NewValidationError(map[string]string{"": "no fields to update"})
	}
	fields := map[string]string{}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		fields["title"] = "title is required"
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		fields["dueDate"] = "a due date is required"
	}
	if p.Priority != nil && !p.Priority.Valid() {
		fields["priority"] = "priority must be one of low, medium, high"
	}
	if p.Reminder != nil && !p.Reminder.Normalize().Valid() {
		fields["reminder"] = "reminder must be one of none, on-due-date"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// ReschedulesReminder reports whether applying the patch to current changes the due date or reminder kind.
func (p TaskPatch) ReschedulesReminder(current *Task) bool {
	if current == nil {
		return p.DueDate != nil || p.Reminder != nil
	}
	if p.DueDate != nil && !p.DueDate.Equal(current.DueDate) {
		return true
	}
	if p.Reminder != nil && p.Reminder.Normalize() != current.Reminder.Normalize() {
		return true
	}
	return false
}
