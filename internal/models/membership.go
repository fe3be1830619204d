package models

// HouseholdRole is the household-scoped authorization level of a member.
type HouseholdRole string

const (
	HouseholdRoleOwner  HouseholdRole = "owner"
	HouseholdRoleAdmin  HouseholdRole = "admin"
	HouseholdRoleMember HouseholdRole = "member"
)

// ValidHouseholdRole reports whether the value is one of the known roles.
func ValidHouseholdRole(role HouseholdRole) bool {
	switch role {
	case HouseholdRoleOwner, HouseholdRoleAdmin, HouseholdRoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may mutate household-scoped resources.
func (r HouseholdRole) CanManage() bool {
	return r == HouseholdRoleOwner || r == HouseholdRoleAdmin
}

// Membership joins a user to a household with a role. The composite unique
// index guarantees at most one membership per (household, user) pair; races
// on concurrent accepts collapse onto it.
type Membership struct {
	BaseModel

	HouseholdID string        `gorm:"type:uuid;not null;uniqueIndex:idx_membership_household_user" json:"household_id"`
	UserID      string        `gorm:"not null;uniqueIndex:idx_membership_household_user;index" json:"user_id"`
	Role        HouseholdRole `gorm:"not null;default:member" json:"role"`

	Household *Household `gorm:"foreignKey:HouseholdID" json:"household,omitempty"`
	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
