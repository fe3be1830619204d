package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records security-relevant events: invitation transitions,
// membership changes and lazy account provisioning.
type AuditLog struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	ActorID   *string        `gorm:"index" json:"actor_id"`
	Actor     *User          `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Action    string         `gorm:"not null;index" json:"action"`
	Resource  string         `gorm:"index" json:"resource"`
	Result    string         `gorm:"not null" json:"result"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
