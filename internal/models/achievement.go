package models

// Achievement is a milestone such as a first smile.
type Achievement struct {
	Record
	Title        string  `json:"title"`
	Category     string  `json:"category,omitempty"`
	AchievedDate *string `json:"achieved_date,omitempty"`
	SortOrder    int     `json:"sort_order"`
	Notes        string  `json:"notes,omitempty"`
}

// TableName returns the table name for Achievement.
func (Achievement) TableName() string {
	return "achievements"
}
