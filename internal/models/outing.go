package models

import "time"

// Outing is a trip outside. Times are unix milliseconds.
type Outing struct {
	Record
	StartedAt int64    `json:"started_at"`
	EndedAt   *int64   `json:"ended_at,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	PlaceName string   `json:"place_name,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// TableName returns the table name for Outing.
func (Outing) TableName() string {
	return "outings"
}

// Duration returns how long the outing lasted, or zero while ongoing.
func (o Outing) Duration() time.Duration {
	if o.EndedAt == nil || *o.EndedAt < o.StartedAt {
		return 0
	}
	return time.Duration(*o.EndedAt-o.StartedAt) * time.Millisecond
}
