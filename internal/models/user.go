package models

import "time"

// SystemRole is the platform-wide role carried by a user account. It is
// unrelated to the household-scoped HouseholdRole.
type SystemRole string

const (
	SystemRoleUser  SystemRole = "user"
	SystemRoleAdmin SystemRole = "admin"
)

// User describes an account created lazily from a verified token. The ID is
// the token subject and is issued externally, so no UUID hook applies here.
type User struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	Email       string     `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string     `json:"display_name"`
	Role        SystemRole `gorm:"not null;default:user" json:"role"`
	Password    string     `gorm:"not null" json:"-"`

	Memberships []Membership `gorm:"foreignKey:UserID" json:"memberships,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account carries the platform admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == SystemRoleAdmin
}
