package model

import (
	"time"

	"artcrm/internal/calmath"
)

// CompletionStatus is the lifecycle state of an event or of one occurrence.
type CompletionStatus string

const (
	StatusIncomplete CompletionStatus = "incomplete"
	StatusComplete   CompletionStatus = "complete"
	StatusCancelled  CompletionStatus = "cancelled"
	StatusOnPause    CompletionStatus = "on_pause"
	StatusInProcess  CompletionStatus = "in_process"
)

// Valid reports whether s is one of the known statuses.
func (s CompletionStatus) Valid() bool {
	switch s {
	case StatusIncomplete, StatusComplete, StatusCancelled, StatusOnPause, StatusInProcess:
		return true
	}
	return false
}

// DateMode selects how an event's dates are interpreted.
type DateMode string

const (
	DateModeExactDate     DateMode = "exact_date"
	DateModeNumberOfMonth DateMode = "number_of_month"
)

// RecurrenceKind classifies an occurrence by the model that produced it.
type RecurrenceKind string

const (
	KindSingle  RecurrenceKind = "single"
	KindMonthly RecurrenceKind = "monthly"
	KindRRule   RecurrenceKind = "rrule"
)

// EventType distinguishes plain events from tasks.
type EventType string

const (
	EventTypeEvent EventType = "event"
	EventTypeTask  EventType = "task"
)

// User owns events and month schedules.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a persisted schedule item. Its dates live in Schedule, which is
// one of ExactSingle, ExactRule, MonthSingle or MonthSeries.
type Event struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Type     EventType `json:"event_type"`
	Category string    `json:"category,omitempty"`
	Tag      string    `json:"type,omitempty"`
	Tags     []string  `json:"tags"`

	// Amount is a signed value in minor currency units; budgets sum it.
	Amount            *int64 `json:"amount,omitempty"`
	BalanceCorrection bool   `json:"is_balance_correction"`

	Schedule        Schedule         `json:"-"`
	DurationMinutes *int             `json:"duration_minutes,omitempty"`
	Status          CompletionStatus `json:"status"`
	Active          bool             `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recurring reports whether the event can produce more than one occurrence.
func (e Event) Recurring() bool {
	return e.Schedule != nil && e.Schedule.Kind() != KindSingle
}

// Completed mirrors the status.
func (e Event) Completed() bool {
	return e.Status == StatusComplete
}

// EventOverride is a persisted exception for one occurrence of a series.
// It is keyed by (EventID, At) where At is the occurrence datetime.
type EventOverride struct {
	ID         int64            `json:"id"`
	EventID    int64            `json:"parent_event"`
	At         time.Time        `json:"instance_datetime"`
	Status     CompletionStatus `json:"status"`
	Completed  bool             `json:"is_completed"`
	ModifiedAt time.Time        `json:"modified_at"`
}

// Occurrence is one concrete firing of an event inside a query window.
// It is computed on demand and never stored.
type Occurrence struct {
	ID        string         `json:"id"`
	EventID   int64          `json:"source_event_id"`
	At        time.Time      `json:"datetime"`
	End       *time.Time     `json:"end_datetime,omitempty"`
	Kind      RecurrenceKind `json:"recurrence_type"`
	Recurring bool           `json:"is_recurring"`

	Status    CompletionStatus `json:"status"`
	Completed bool             `json:"is_completed"`

	Event    EventView      `json:"event"`
	Override *EventOverride `json:"overlay"`
}

// HasOverride reports whether a persisted exception was merged in.
func (o Occurrence) HasOverride() bool {
	return o.Override != nil
}

// MonthSchedule assigns one pattern to a user's month.
type MonthSchedule struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Year      int              `json:"year"`
	Month     time.Month       `json:"month"`
	PatternID int64            `json:"pattern_id"`
	Pattern   *SchedulePattern `json:"pattern,omitempty"`
}

// YearMonth returns the month the schedule covers.
func (ms MonthSchedule) YearMonth() calmath.YearMonth {
	return calmath.YearMonth{Year: ms.Year, Month: ms.Month}
}

// DayOverride replaces the generated day type of one date in a month schedule.
type DayOverride struct {
	ID              int64     `json:"id"`
	MonthScheduleID int64     `json:"month_schedule_id"`
	Date            time.Time `json:"date"`
	Type            DayType   `json:"type"`
	Comment         string    `json:"comment,omitempty"`
}
