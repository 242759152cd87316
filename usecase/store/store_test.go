package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var (
	u1 = domain.Identity{UID: "u1", DisplayName: "Ada", Email: "ada@example.com"}
	u2 = domain.Identity{UID: "u2", DisplayName: "Grace"}
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeDocs, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)}
	docs := newFakeDocs(clock.Now)
	base := []Option{
		WithClock(clock.Now),
		WithLocation(time.UTC),
		WithQuotes([]string{"Well begun is half done."}, func(int) int { return 0 }),
	}
	s := New(docs, append(base, opts...)...)
	t.Cleanup(s.Stop)
	return s, docs, clock
}

func reportDraft() domain.TaskDraft {
	return domain.TaskDraft{
		Title:    "Write report",
		DueDate:  domain.MustParseDate("2024-08-15"),
		Priority: domain.PriorityHigh,
	}
}

func seedAggregate(t *testing.T, docs *fakeDocs, uid string, streak int, last string) {
	t.Helper()
	err := docs.Transform(context.Background(), userRef(uid), func(repository.Fields) (repository.Fields, error) {
		return repository.Fields{"streak": streak, "lastCompletedDate": last}, nil
	})
	require.NoError(t, err)
}

func TestAddTaskAppearsOnceWithDefaults(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, id, task.ID)
	assert.Equal(t, "Write report", task.Title)
	assert.Equal(t, domain.PriorityHigh, task.Priority)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
	assert.False(t, task.ReminderSent)
	assert.Equal(t, domain.ReminderNone, task.Reminder)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestToggleCompletionScenario(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	created := s.Tasks()[0].CreatedAt

	require.NoError(t, s.ToggleTaskCompletion(ctx, id))

	task, ok := s.Task(id)
	require.True(t, ok)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.False(t, task.CompletedAt.Before(created))
	assert.Equal(t, 1, s.Streak())

	agg := s.Aggregate()
	require.NotNil(t, agg.LastCompletedDate)
	assert.Equal(t, domain.DateOf(clock.Now(), time.UTC), *agg.LastCompletedDate)
}

func TestCompletedIffCompletedAt(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.ToggleTaskCompletion(ctx, id))
		task, ok := s.Task(id)
		require.True(t, ok)
		assert.Equal(t, task.Completed, task.CompletedAt != nil, "toggle %d", i)
	}
}

func TestStreakCreditedOncePerDay(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	other, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)

	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	require.NoError(t, s.ToggleTaskCompletion(ctx, other))

	assert.Equal(t, 1, s.Streak())
}

func TestStreakAdvancesOrResets(t *testing.T) {
	tests := []struct {
		name   string
		streak int
		last   string
		want   int
	}{
		{name: "completed yesterday", streak: 4, last: "2024-08-14", want: 5},
		{name: "gap of three days", streak: 4, last: "2024-08-12", want: 1},
		{name: "already today", streak: 4, last: "2024-08-15", want: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, docs, _ := newTestStore(t)
			ctx := context.Background()
			seedAggregate(t, docs, "u1", tt.streak, tt.last)
			require.NoError(t, s.Start(ctx, u1))

			id, err := s.AddTask(ctx, reportDraft())
			require.NoError(t, err)
			require.NoError(t, s.ToggleTaskCompletion(ctx, id))

			assert.Equal(t, tt.want, s.Streak())
			assert.Equal(t, domain.MustParseDate("2024-08-15"), *s.Aggregate().LastCompletedDate)
		})
	}
}

func TestUncompleteDoesNotRollBackStreak(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()
	seedAggregate(t, docs, "u1", 2, "2024-08-14")
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	require.Equal(t, 3, s.Streak())

	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	assert.Equal(t, 3, s.Streak())
}

func TestStaleStreakReadsZero(t *testing.T) {
	s, docs, clock := newTestStore(t)
	ctx := context.Background()
	seedAggregate(t, docs, "u1", 6, "2024-08-14")
	require.NoError(t, s.Start(ctx, u1))
	assert.Equal(t, 6, s.Streak())

	clock.Set(time.Date(2024, 8, 17, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, s.Streak())
	assert.Equal(t, 0, s.State().Streak)
}

func TestDeleteRemovesFromList(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	taskID, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	noteID, err := s.AddNote(ctx, domain.NoteDraft{Title: "Ideas", Content: "Try dark mode"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, taskID))
	require.NoError(t, s.DeleteNote(ctx, noteID))
	assert.Empty(t, s.Tasks())
	assert.Empty(t, s.Notes())

	assert.ErrorIs(t, s.DeleteTask(ctx, taskID), domain.ErrTaskNotFound)
	assert.ErrorIs(t, s.DeleteNote(ctx, noteID), domain.ErrNoteNotFound)
}

func TestSignOutClearsStateAndStopsWrites(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()
	seedAggregate(t, docs, "u1", 3, "2024-08-15")
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	_, err = s.AddNote(ctx, domain.NoteDraft{Title: "Ideas", Content: "Try dark mode"})
	require.NoError(t, err)
	require.Equal(t, 3, s.Streak())

	s.Stop()
	assert.Nil(t, s.Identity())
	assert.Empty(t, s.Tasks())
	assert.Empty(t, s.Notes())
	assert.Equal(t, 0, s.Streak())
	assert.False(t, s.Celebration().Active)
	assert.Equal(t, 0, docs.Subscribers())

	before := docs.Writes()
	title := "Renamed"
	_, err = s.AddTask(ctx, reportDraft())
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{Title: &title}))
	assert.NoError(t, s.ToggleTaskCompletion(ctx, id))
	assert.NoError(t, s.DeleteTask(ctx, id))
	_, err = s.AddNote(ctx, domain.NoteDraft{Title: "x", Content: ""})
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateNote(ctx, "n", domain.NotePatch{Title: &title}))
	assert.NoError(t, s.DeleteNote(ctx, "n"))
	assert.NoError(t, s.MarkReminderSent(ctx, id, reportDraft().DueDate, domain.ReminderOnDueDate))
	assert.Equal(t, before, docs.Writes())
}

func TestAddNoteScenario(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	_, err := s.AddNote(ctx, domain.NoteDraft{Title: "Ideas", Content: "Try dark mode"})
	require.NoError(t, err)

	notes := s.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Ideas", notes[0].Title)
	assert.Equal(t, "Try dark mode", notes[0].Content)
	assert.False(t, notes[0].CreatedAt.IsZero())
}

func TestListsAreNewestFirst(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	first, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	second, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, second, tasks[0].ID)
	assert.Equal(t, first, tasks[1].ID)
}

func TestStaleSnapshotIsDiscarded(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	s.mu.RLock()
	staleGen := s.generation
	s.mu.RUnlock()

	require.NoError(t, s.Start(ctx, u2))
	late := []repository.Document{{ID: "t-old", Data: []byte(`{"title":"from u1","dueDate":"2024-08-15","priority":"low"}`)}}
	s.applyTasks(staleGen, late, nil)
	s.applyAggregate(staleGen, &repository.Document{ID: "u1", Data: []byte(`{"streak":9,"lastCompletedDate":"2024-08-15"}`)}, nil)

	assert.Empty(t, s.Tasks())
	assert.Equal(t, 0, s.Streak())
	assert.Equal(t, "u2", s.Identity().UID)
}

func TestSwitchingIdentityReplacesSubscriptions(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, u1))
	_, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	require.Equal(t, 3, docs.Subscribers())

	require.NoError(t, s.Start(ctx, u2))
	assert.Equal(t, 3, docs.Subscribers())
	assert.Empty(t, s.Tasks())

	// restarting the active identity keeps its subscriptions
	require.NoError(t, s.Start(ctx, domain.Identity{UID: "u2", DisplayName: "Grace Hopper"}))
	assert.Equal(t, 3, docs.Subscribers())
	assert.Equal(t, "Grace Hopper", s.Identity().DisplayName)
}

func TestStartRejectsEmptyIdentity(t *testing.T) {
	s, _, _ := newTestStore(t)
	err := s.Start(context.Background(), domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, s.Active())
}

func TestStartFailureLeavesStoreInert(t *testing.T) {
	s, docs, _ := newTestStore(t)
	docs.Fail(errors.New("permission denied"))

	err := s.Start(context.Background(), u1)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnavailable))
	assert.False(t, s.Active())
}

func TestValidationRejectedBeforeWrite(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))
	before := docs.Writes()

	_, err := s.AddTask(ctx, domain.TaskDraft{Title: "  ", Priority: "urgent"})
	require.Error(t, err)
	fields := domain.FieldErrors(err)
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "dueDate")
	assert.Contains(t, fields, "priority")

	_, err = s.AddNote(ctx, domain.NoteDraft{Title: "Hi", Content: "ok"})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	err = s.UpdateTask(ctx, "any", domain.TaskPatch{})
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeInvalid))

	assert.Equal(t, before, docs.Writes())
}

func TestBackingStoreFailurePropagates(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	cause := errors.New("network down")
	docs.Fail(cause)

	_, err := s.AddTask(ctx, reportDraft())
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, s.Tasks())
	assert.False(t, s.Celebration().Active)
}

func TestUpdateTaskMergesAndRearmsReminder(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	draft := reportDraft()
	draft.Reminder = domain.ReminderOnDueDate
	draft.Description = "quarterly numbers"
	id, err := s.AddTask(ctx, draft)
	require.NoError(t, err)
	require.NoError(t, s.MarkReminderSent(ctx, id, draft.DueDate, draft.Reminder))
	task, _ := s.Task(id)
	require.True(t, task.ReminderSent)

	title := "Write final report"
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{Title: &title}))
	task, _ = s.Task(id)
	assert.Equal(t, "Write final report", task.Title)
	assert.Equal(t, "quarterly numbers", task.Description)
	assert.True(t, task.ReminderSent, "title edits keep the reminder state")

	sameDue := domain.MustParseDate("2024-08-15")
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{DueDate: &sameDue}))
	task, _ = s.Task(id)
	assert.True(t, task.ReminderSent, "unchanged due date keeps the reminder state")

	newDue := domain.MustParseDate("2024-08-20")
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{DueDate: &newDue}))
	task, _ = s.Task(id)
	assert.Equal(t, newDue, task.DueDate)
	assert.False(t, task.ReminderSent)

	err = s.UpdateTask(ctx, "missing", domain.TaskPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.ErrorIs(t, s.ToggleTaskCompletion(ctx, "missing"), domain.ErrTaskNotFound)
	assert.ErrorIs(t, s.MarkReminderSent(ctx, "missing", draft.DueDate, draft.Reminder), domain.ErrTaskNotFound)
}

func TestMarkReminderSentKeepsRescheduledTaskArmed(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	draft := reportDraft()
	draft.DueDate = domain.MustParseDate("2024-08-14")
	draft.Reminder = domain.ReminderOnDueDate
	id, err := s.AddTask(ctx, draft)
	require.NoError(t, err)
	notified, ok := s.Task(id)
	require.True(t, ok)

	newDue := domain.MustParseDate("2024-08-20")
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{DueDate: &newDue}))
	require.NoError(t, s.MarkReminderSent(ctx, id, notified.DueDate, notified.Reminder))

	task, _ := s.Task(id)
	assert.Equal(t, newDue, task.DueDate)
	assert.False(t, task.ReminderSent, "a reminder for the old due date must not cover the new one")

	none := domain.ReminderNone
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{Reminder: &none}))
	require.NoError(t, s.MarkReminderSent(ctx, id, newDue, domain.ReminderOnDueDate))
	task, _ = s.Task(id)
	assert.False(t, task.ReminderSent)

	on := domain.ReminderOnDueDate
	require.NoError(t, s.UpdateTask(ctx, id, domain.TaskPatch{Reminder: &on}))
	require.NoError(t, s.MarkReminderSent(ctx, id, newDue, domain.ReminderOnDueDate))
	task, _ = s.Task(id)
	assert.True(t, task.ReminderSent)
}

func TestToggleReportsUnrecordedStreak(t *testing.T) {
	s, docs, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)

	cause := errors.New("aggregate write refused")
	docs.FailCollection(userRef(u1.UID).Parent().String(), cause)

	err = s.ToggleTaskCompletion(ctx, id)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeUnavailable))
	assert.ErrorIs(t, err, ErrStreakNotRecorded)
	assert.ErrorIs(t, err, cause)

	task, _ := s.Task(id)
	assert.True(t, task.Completed, "the completion itself committed")
	assert.Equal(t, 0, s.Streak())
}

func TestUpdateNote(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddNote(ctx, domain.NoteDraft{Title: "Ideas", Content: "Try dark mode"})
	require.NoError(t, err)

	content := "Try dark mode and a compact layout"
	require.NoError(t, s.UpdateNote(ctx, id, domain.NotePatch{Content: &content}))
	notes := s.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Ideas", notes[0].Title)
	assert.Equal(t, content, notes[0].Content)

	assert.ErrorIs(t, s.UpdateNote(ctx, "missing", domain.NotePatch{Content: &content}), domain.ErrNoteNotFound)
}

func TestCelebrationRaisedAndExpires(t *testing.T) {
	s, _, _ := newTestStore(t, WithCelebrationDuration(30*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	_, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	c := s.Celebration()
	assert.True(t, c.Active)
	assert.Equal(t, "Well begun is half done.", c.Message)

	require.Eventually(t, func() bool { return !s.Celebration().Active }, time.Second, 5*time.Millisecond)
}

func TestCompletingRaisesCelebrationAndDismiss(t *testing.T) {
	s, _, _ := newTestStore(t, WithCelebrationDuration(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, u1))

	id, err := s.AddTask(ctx, reportDraft())
	require.NoError(t, err)
	s.DismissCelebration()
	require.False(t, s.Celebration().Active)

	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	assert.Equal(t, CompletedMessage, s.Celebration().Message)
	s.DismissCelebration()
	assert.False(t, s.Celebration().Active)

	require.NoError(t, s.ToggleTaskCompletion(ctx, id))
	assert.False(t, s.Celebration().Active, "un-completing does not celebrate")
}

func TestWatchReceivesChanges(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	changes, release := s.Watch()
	defer release()

	require.NoError(t, s.Start(ctx, u1))
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change notification after start")
	}

	_, err := s.AddNote(ctx, domain.NoteDraft{Title: "Ideas", Content: "Try dark mode"})
	require.NoError(t, err)
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change notification after add")
	}
	assert.Len(t, s.State().Notes, 1)
}
