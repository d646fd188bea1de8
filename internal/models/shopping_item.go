package models

// ShoppingItem is one entry on the shopping list. A zero Quantity leaves
// the column default of 1.
type ShoppingItem struct {
	Record
	Name      string `json:"name"`
	Quantity  int    `json:"quantity,omitempty"`
	IsChecked bool   `json:"is_checked"`
	SortOrder int    `json:"sort_order"`
}

// TableName returns the table name for ShoppingItem.
func (ShoppingItem) TableName() string {
	return "shopping_items"
}
