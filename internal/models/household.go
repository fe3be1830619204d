package models

// Household is a group of users sharing locations and pantry items.
type Household struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Memberships []Membership `gorm:"foreignKey:HouseholdID;constraint:OnDelete:CASCADE" json:"memberships,omitempty"`
	Locations   []Location   `gorm:"foreignKey:HouseholdID;constraint:OnDelete:CASCADE" json:"locations,omitempty"`
}
