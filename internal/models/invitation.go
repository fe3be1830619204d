package models

import (
	"strings"
	"time"
)

// InvitationStatus is the lifecycle state of an invitation. PENDING is the
// only non-terminal state.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// Terminal reports whether no further transition may leave the state.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationPending
}

// CanTransition reports whether the state machine permits moving from s to
// target. Terminal states absorb; a pending invitation may move to any
// terminal state. Resend is not a transition: it keeps the invitation pending.
func (s InvitationStatus) CanTransition(target InvitationStatus) bool {
	if s.Terminal() {
		return false
	}
	switch target {
	case InvitationAccepted, InvitationDeclined, InvitationCancelled, InvitationExpired:
		return true
	}
	return false
}

// Invitation is an offer for a user, addressed by account or by email, to
// join a household with a proposed role. InvitedUserID and InvitedEmail are
// mutually exclusive; linking clears the email and sets the user exactly once.
// InviteeKey mirrors the invitee identity while the invitation is pending and
// is nulled on every terminal transition, so the (household_id, invitee_key)
// unique index enforces the single-pending-invitation rule without a partial
// index, portably across sqlite, postgres and mysql.
type Invitation struct {
	BaseModel

	HouseholdID   string           `gorm:"type:uuid;not null;index;uniqueIndex:idx_invitation_pending_identity" json:"household_id"`
	InvitedUserID *string          `gorm:"index" json:"invited_user_id,omitempty"`
	InvitedEmail  *string          `gorm:"index" json:"invited_email,omitempty"`
	InviteeKey    *string          `gorm:"uniqueIndex:idx_invitation_pending_identity" json:"-"`
	InviterID     string           `gorm:"not null" json:"inviter_id"`
	Role          HouseholdRole    `gorm:"not null;default:member" json:"role"`
	Status        InvitationStatus `gorm:"not null;default:pending;index" json:"status"`
	ExpiresAt     time.Time        `gorm:"index" json:"expires_at"`

	Household *Household `gorm:"foreignKey:HouseholdID" json:"household,omitempty"`
	InvitedBy *User      `gorm:"foreignKey:InviterID" json:"invited_by,omitempty"`
	Invited   *User      `gorm:"foreignKey:InvitedUserID" json:"invited,omitempty"`
}

// Invitee exposes the target identity as its sum form.
func (inv *Invitation) Invitee() Invitee {
	if inv.InvitedUserID != nil && *inv.InvitedUserID != "" {
		return InviteeByUser(*inv.InvitedUserID)
	}
	if inv.InvitedEmail != nil {
		return InviteeByEmail(*inv.InvitedEmail)
	}
	return Invitee{}
}

// AddressedTo reports whether the invitation targets the given user, matching
// by account id or, for unlinked email invitations, by case-insensitive email.
func (inv *Invitation) AddressedTo(user *User) bool {
	if user == nil {
		return false
	}
	if inv.InvitedUserID != nil && *inv.InvitedUserID == user.ID {
		return true
	}
	if inv.InvitedUserID == nil && inv.InvitedEmail != nil {
		return strings.EqualFold(*inv.InvitedEmail, user.Email)
	}
	return false
}

// ExpiredAt reports whether the invitation's deadline has passed at the given
// instant. Status is not consulted; the caller decides what to do about it.
func (inv *Invitation) ExpiredAt(now time.Time) bool {
	return inv.ExpiresAt.Before(now)
}
