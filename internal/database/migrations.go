package database

import (
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/models"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Household{},
		&models.Membership{},
		&models.Invitation{},
		&models.Location{},
		&models.Product{},
		&models.PantryItem{},
		&models.AuditLog{},
	)
}
