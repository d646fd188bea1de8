package models

import (
	"time"

	apperrors "github.com/kimhsiao/babylog/internal/errors"
)

// CalendarEvent is a dated event. A relative event is anchored to the
// child's birthday and has no stored date.
type CalendarEvent struct {
	Record
	Title        string  `json:"title"`
	EventDate    *string `json:"event_date"`
	IsRelative   bool    `json:"is_relative"`
	RelativeDays *int    `json:"relative_days"`
	Category     string  `json:"category,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// TableName returns the table name for CalendarEvent.
func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// NewDatedEvent creates an event on a fixed date.
func NewDatedEvent(title string, date time.Time) CalendarEvent {
	d := FormatDate(date)
	return CalendarEvent{Title: title, EventDate: &d}
}

// NewRelativeEvent creates an event days after the birthday.
func NewRelativeEvent(title string, days int) CalendarEvent {
	return CalendarEvent{Title: title, IsRelative: true, RelativeDays: &days}
}

// Validate enforces that exactly one of the absolute date and the relative
// offset is set.
func (e CalendarEvent) Validate() error {
	if e.Title == "" {
		return apperrors.New(apperrors.ErrValidation, "event title is required")
	}
	if e.IsRelative {
		if e.RelativeDays == nil {
			return apperrors.New(apperrors.ErrValidation, "relative event needs relative_days")
		}
		if *e.RelativeDays < 0 {
			return apperrors.New(apperrors.ErrValidation, "relative_days must not be negative")
		}
		if e.EventDate != nil {
			return apperrors.New(apperrors.ErrValidation, "relative event cannot carry an event_date")
		}
		return nil
	}
	if e.RelativeDays != nil {
		return apperrors.New(apperrors.ErrValidation, "absolute event cannot carry relative_days")
	}
	if e.EventDate == nil {
		return apperrors.New(apperrors.ErrValidation, "event_date is required")
	}
	if _, err := time.Parse(DateLayout, *e.EventDate); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "event_date must be YYYY-MM-DD", err)
	}
	return nil
}

// ResolveDate returns the calendar date of the event. Relative events need
// a birthday; ok is false when the date cannot be determined.
func (e CalendarEvent) ResolveDate(birthday *time.Time) (time.Time, bool) {
	if !e.IsRelative {
		if e.EventDate == nil {
			return time.Time{}, false
		}
		t, err := time.Parse(DateLayout, *e.EventDate)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	if birthday == nil || e.RelativeDays == nil {
		return time.Time{}, false
	}
	b := *birthday
	return time.Date(b.Year(), b.Month(), b.Day()+*e.RelativeDays, 0, 0, 0, 0, time.UTC), true
}
