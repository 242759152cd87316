package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// NoteMinLength is the minimum length of a note title and content.
const NoteMinLength = 3

// Note is a free-text entry.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NoteDraft is the input of a note creation.
type NoteDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (d NoteDraft) Validate() error {
	fields := map[string]string{}
	if msg := checkNoteText("title", d.Title); msg != "" {
		fields["title"] = msg
	}
	if msg := checkNoteText("content", d.Content); msg != "" {
		fields["content"] = msg
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

// NotePatch carries the fields of a partial note update.
type NotePatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

func (p NotePatch) Empty() bool {
	return p.Title == nil && p.Content == nil
}

func (p NotePatch) Validate() error {
	if p.Empty() {
		return NewValidationError(map[string]string{"": "no fields to update"})
	}
	fields := map[string]string{}
	if p.Title != nil {
		if msg := checkNoteText("title", *p.Title); msg != "" {
			fields["title"] = msg
		}
	}
	if p.Content != nil {
		if msg := checkNoteText("content", *p.Content); msg != "" {
			fields["content"] = msg
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func checkNoteText(name, value string) string {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < NoteMinLength {
		return name + " must be at least 3 characters"
	}
	return ""
}
