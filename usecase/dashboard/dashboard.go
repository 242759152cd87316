// Package dashboard derives read-only views from a store's mirrored state.
package dashboard

import (
	"sort"
	"time"

	"github.com/fastygo/donote/domain"
)

const (
	// UpcomingLimit is the number of open tasks shown on the dashboard.
	UpcomingLimit = 5
	// RecentNotesLimit is the number of notes shown on the dashboard.
	RecentNotesLimit = 3
	// ChartDays is the width of the completion chart.
	ChartDays = 7
)

// ChartPoint is one day of the completion chart.
type ChartPoint struct {
	Date      domain.Date `json:"date"`
	Weekday   string      `json:"weekday"`
	Completed int         `json:"completed"`
}

// Summary is the dashboard view.
type Summary struct {
	OpenTasks   int           `json:"openTasks"`
	TotalNotes  int           `json:"totalNotes"`
	Streak      int           `json:"streak"`
	Upcoming    []domain.Task `json:"upcoming"`
	RecentNotes []domain.Note `json:"recentNotes"`
	Chart       []ChartPoint  `json:"chart"`
}

// Source is the subset of the store the dashboard reads.
type Source interface {
	Tasks() []domain.Task
	Notes() []domain.Note
	Streak() int
	Today() domain.Date
	Location() *time.Location
}

// Build computes the dashboard summary of src.
func Build(src Source) Summary {
	tasks := src.Tasks()
	notes := src.Notes()
	open, _ := SplitByCompletion(tasks)
	return Summary{
		OpenTasks:   len(open),
		TotalNotes:  len(notes),
		Streak:      src.Streak(),
		Upcoming:    Upcoming(tasks, UpcomingLimit),
		RecentNotes: RecentNotes(notes, RecentNotesLimit),
		Chart:       CompletionChart(tasks, src.Today(), src.Location(), ChartDays),
	}
}

// SortByDueDate returns a copy of tasks ordered by due date ascending. Ties keep their input order.
func SortByDueDate(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// SplitByCompletion sorts tasks by due date and splits them into open and completed.
func SplitByCompletion(tasks []domain.Task) (open, completed []domain.Task) {
	open = []domain.Task{}
	completed = []domain.Task{}
	for _, task := range SortByDueDate(tasks) {
		if task.Completed {
			completed = append(completed, task)
		} else {
			open = append(open, task)
		}
	}
	return open, completed
}

// Upcoming returns at most limit open tasks, soonest due first.
func Upcoming(tasks []domain.Task, limit int) []domain.Task {
	open, _ := SplitByCompletion(tasks)
	if limit >= 0 && len(open) > limit {
		open = open[:limit]
	}
	return open
}

// RecentNotes returns the first limit notes. Notes are expected newest first.
func RecentNotes(notes []domain.Note, limit int) []domain.Note {
	n := len(notes)
	if limit >= 0 && n > limit {
		n = limit
	}
	out := make([]domain.Note, n)
	copy(out, notes[:n])
	return out
}

// IsOverdue reports whether an open task is due strictly before today.
func IsOverdue(task domain.Task, today domain.Date) bool {
	return !task.Completed && task.DueDate.Before(today)
}

// CompletionChart counts completed tasks per calendar day for the days ending at today, oldest first.
func CompletionChart(tasks []domain.Task, today domain.Date, loc *time.Location, days int) []ChartPoint {
	if days <= 0 {
		return []ChartPoint{}
	}
	if loc == nil {
		loc = time.UTC
	}
	first := today.AddDays(-(days - 1))
	points := make([]ChartPoint, days)
	for i := range points {
		day := first.AddDays(i)
		points[i] = ChartPoint{Date: day, Weekday: day.Time(time.UTC).Weekday().String()[:3]}
	}
	for _, task := range tasks {
		if !task.Completed || task.CompletedAt == nil {
			continue
		}
		day := domain.DateOf(*task.CompletedAt, loc)
		if day.Before(first) || day.After(today) {
			continue
		}
		points[daysBetween(first, day)].Completed++
	}
	return points
}

func daysBetween(from, to domain.Date) int {
	return int(to.Time(time.UTC).Sub(from.Time(time.UTC)).Hours() / 24)
}
