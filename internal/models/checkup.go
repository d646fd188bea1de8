package models

// Checkup is one pediatric visit with optional measurements.
type Checkup struct {
	Record
	CheckupDate string   `json:"checkup_date"`
	HeightCM    *float64 `json:"height_cm,omitempty"`
	WeightKG    *float64 `json:"weight_kg,omitempty"`
	HeadCM      *float64 `json:"head_cm,omitempty"`
	Clinic      string   `json:"clinic,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// TableName returns the table name for Checkup.
func (Checkup) TableName() string {
	return "checkups"
}
