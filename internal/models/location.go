package models

// Location is a storage place (fridge, freezer, cellar shelf) owned by a
// household. Permission checks on a location resolve to its household.
type Location struct {
	BaseModel

	HouseholdID string `gorm:"type:uuid;not null;index" json:"household_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Household *Household   `gorm:"foreignKey:HouseholdID" json:"household,omitempty"`
	Items     []PantryItem `gorm:"foreignKey:LocationID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}
