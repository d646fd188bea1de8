package models

import "time"

// ChildProfile holds the child's name and birthday (YYYY-MM-DD).
type ChildProfile struct {
	Record
	Name     string `json:"name"`
	Birthday string `json:"birthday"`
}

// TableName returns the table name for ChildProfile.
func (ChildProfile) TableName() string {
	return "child_profiles"
}

// BirthdayDate parses Birthday, returning nil when unset or malformed.
func (c ChildProfile) BirthdayDate() *time.Time {
	t, err := time.Parse(DateLayout, c.Birthday)
	if err != nil {
		return nil
	}
	return &t
}

// AgeDays returns the number of whole days between the birthday and on.
func (c ChildProfile) AgeDays(on time.Time) int {
	b := c.BirthdayDate()
	if b == nil {
		return 0
	}
	day := time.Date(on.Year(), on.Month(), on.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(*b).Hours() / 24)
}
