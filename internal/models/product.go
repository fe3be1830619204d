package models

// Product is a catalog entry shared across households.
type Product struct {
	BaseModel

	Name     string `gorm:"not null;index" json:"name"`
	Barcode  string `gorm:"index" json:"barcode"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
}
