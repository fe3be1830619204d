package models

import "time"

// PantryItem is a stocked product in a location. Its owning household is
// reached through the location, which is the granularity all permission
// checks are evaluated at.
type PantryItem struct {
	BaseModel

	LocationID string     `gorm:"type:uuid;not null;index" json:"location_id"`
	ProductID  string     `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity   float64    `gorm:"not null;default:1" json:"quantity"`
	BestBefore *time.Time `json:"best_before,omitempty"`

	Location *Location `gorm:"foreignKey:LocationID" json:"location,omitempty"`
	Product  *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}
