package domain

// UserAggregate is the per-identity record holding the completion streak.
type UserAggregate struct {
	Streak            int   `json:"streak"`
	LastCompletedDate *Date `json:"lastCompletedDate"`
}

// RecordCompletion credits a task completion on today and returns the updated aggregate.
// A day is credited at most once; a gap of two or more days restarts the streak at 1.
func (a UserAggregate) RecordCompletion(today Date) UserAggregate {
	if a.LastCompletedDate != nil {
		last := *a.LastCompletedDate
		if last.Equal(today) {
			return a
		}
		if last.Equal(today.AddDays(-1)) {
			return UserAggregate{Streak: a.Streak + 1, LastCompletedDate: &today}
		}
	}
	return UserAggregate{Streak: 1, LastCompletedDate: &today}
}

// EffectiveStreak is the streak to display on today: once the last completion is older than yesterday it is 0.
func (a UserAggregate) EffectiveStreak(today Date) int {
	if a.LastCompletedDate == nil {
		return 0
	}
	if a.LastCompletedDate.Before(today.AddDays(-1)) {
		return 0
	}
	if a.Streak < 0 {
		return 0
	}
	return a.Streak
}
