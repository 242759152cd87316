package transport

import (
	"strings"
	"unicode/utf8"

	"github.com/fastygo/donote/domain"
)

// TitleMinLength is the shortest task title the API accepts.
const TitleMinLength = 3

type TaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate"`
	Priority    string `json:"priority"`
	Reminder    string `json:"reminder"`
}

// ToDraft applies the form rules and converts the request into a task draft.
func (r TaskRequest) ToDraft() (domain.TaskDraft, error) {
	fields := map[string]string{}
	draft := domain.TaskDraft{
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		Priority:    domain.PriorityMedium,
		Reminder:    domain.Reminder(r.Reminder).Normalize(),
	}
	if msg := checkTitle(r.Title); msg != "" {
		fields["title"] = msg
	}
	due, err := domain.ParseDate(strings.TrimSpace(r.DueDate))
	if err != nil {
		fields["dueDate"] = "due date must be YYYY-MM-DD"
	}
	draft.DueDate = due
	if r.Priority != "" {
		draft.Priority = domain.Priority(r.Priority)
	}
	if len(fields) > 0 {
		return domain.TaskDraft{}, domain.NewValidationError(fields)
	}
	return draft, draft.Validate()
}

type TaskPatchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"dueDate"`
	Priority    *string `json:"priority"`
	Reminder    *string `json:"reminder"`
}

func (r TaskPatchRequest) ToPatch() (domain.TaskPatch, error) {
	var patch domain.TaskPatch
	fields := map[string]string{}
	if r.Title != nil {
		if msg := checkTitle(*r.Title); msg != "" {
			fields["title"] = msg
		}
		patch.Title = r.Title
	}
	patch.Description = r.Description
	if r.DueDate != nil {
		due, err := domain.ParseDate(strings.TrimSpace(*r.DueDate))
		if err != nil {
			fields["dueDate"] = "due date must be YYYY-MM-DD"
		}
		patch.DueDate = &due
	}
	if r.Priority != nil {
		p := domain.Priority(*r.Priority)
		patch.Priority = &p
	}
	if r.Reminder != nil {
		rem := domain.Reminder(*r.Reminder).Normalize()
		patch.Reminder = &rem
	}
	if len(fields) > 0 {
		return domain.TaskPatch{}, domain.NewValidationError(fields)
	}
	return patch, patch.Validate()
}

type NoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r NoteRequest) ToDraft() (domain.NoteDraft, error) {
	draft := domain.NoteDraft{Title: r.Title, Content: r.Content}
	return draft, draft.Validate()
}

type NotePatchRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func (r NotePatchRequest) ToPatch() (domain.NotePatch, error) {
	patch := domain.NotePatch{Title: r.Title, Content: r.Content}
	return patch, patch.Validate()
}

func checkTitle(title string) string {
	if utf8.RuneCountInString(strings.TrimSpace(title)) < TitleMinLength {
		return "title must be at least 3 characters"
	}
	return ""
}
