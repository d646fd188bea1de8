// Package models provides the record types stored by babylog.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DateLayout is the layout of calendar date columns.
const DateLayout = "2006-01-02"

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Record holds the columns every table shares. The backend assigns ID and
// both timestamps; clients never set them.
type Record struct {
	ID        UUID   `json:"id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// RecordID returns the primary key.
func (r Record) RecordID() string {
	return string(r.ID)
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r Record) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r Record) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// ParseDate parses a YYYY-MM-DD date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
