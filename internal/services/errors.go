package services

import (
	"net/http"

	apperrors "github.com/openlarder/larder/pkg/errors"
)

var (
	// ErrHouseholdNotFound indicates the requested household does not exist.
	ErrHouseholdNotFound = apperrors.New("HOUSEHOLD_NOT_FOUND", "Household not found", http.StatusNotFound)
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrInvitationNotFound indicates no invitation matches the identifier.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrMembershipNotFound indicates the user is not a member of the household.
	ErrMembershipNotFound = apperrors.New("MEMBERSHIP_NOT_FOUND", "User is not a member of the household", http.StatusNotFound)

	// ErrDuplicateInvitation signals a pending invitation already targets the invitee.
	ErrDuplicateInvitation = apperrors.NewConflict("INVITATION_PENDING", "A pending invitation already exists for this invitee")
	// ErrDuplicateMembership signals the membership already exists.
	ErrDuplicateMembership = apperrors.NewConflict("MEMBERSHIP_EXISTS", "User is already a member of the household")

	// ErrInvitationNotPending signals an operation against an invitation in a terminal state.
	ErrInvitationNotPending = apperrors.NewResourceState("INVITATION_NOT_PENDING", "Invitation is no longer pending")
	// ErrInvitationExpired signals the invitation's deadline has passed.
	ErrInvitationExpired = apperrors.NewResourceState("INVITATION_EXPIRED", "Invitation has expired")

	// ErrAlreadyMember rejects inviting a user who already holds a membership.
	ErrAlreadyMember = apperrors.NewBusinessRule("ALREADY_MEMBER", "Invitee is already a member of the household")
	// ErrOwnerCannotLeave rejects an owner leaving without transferring ownership.
	ErrOwnerCannotLeave = apperrors.NewBusinessRule("OWNER_CANNOT_LEAVE", "Owner must transfer ownership before leaving")
	// ErrLastOwner rejects removing or demoting the household's only owner.
	ErrLastOwner = apperrors.NewBusinessRule("LAST_OWNER", "Household must keep at least one owner")
)
