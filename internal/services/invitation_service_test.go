package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/database/testutil"
	"github.com/openlarder/larder/internal/models"
	"github.com/openlarder/larder/internal/permissions"
	apperrors "github.com/openlarder/larder/pkg/errors"
)

func seedUser(t *testing.T, db *gorm.DB, id, email string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       id,
		Email:    email,
		Role:     models.SystemRoleUser,
		Password: "placeholder",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedHousehold(t *testing.T, db *gorm.DB, name string) *models.Household {
	t.Helper()
	household := &models.Household{Name: name}
	require.NoError(t, db.Create(household).Error)
	return household
}

func seedMembership(t *testing.T, db *gorm.DB, householdID, userID string, role models.HouseholdRole) *models.Membership {
	t.Helper()
	membership := &models.Membership{HouseholdID: householdID, UserID: userID, Role: role}
	require.NoError(t, db.Create(membership).Error)
	return membership
}

func newTestInvitationService(t *testing.T, db *gorm.DB, clock func() time.Time) *InvitationService {
	t.Helper()
	checker, err := permissions.NewChecker(db)
	require.NoError(t, err)

	opts := []InvitationOption{}
	if clock != nil {
		opts = append(opts, WithInvitationClock(clock))
	}
	svc, err := NewInvitationService(db, checker, nil, opts...)
	require.NoError(t, err)
	return svc
}

func countMemberships(t *testing.T, db *gorm.DB, householdID, userID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("household_id = ? AND user_id = ?", householdID, userID).
		Count(&count).Error)
	return count
}

func reloadInvitation(t *testing.T, db *gorm.DB, id string) *models.Invitation {
	t.Helper()
	var invitation models.Invitation
	require.NoError(t, db.First(&invitation, "id = ?", id).Error)
	return &invitation
}

func TestSendEmailInvitationLinkAndAccept(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestInvitationService(t, db, func() time.Time { return current })

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("a@x.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, invitation.Status)
	require.Nil(t, invitation.InvitedUserID)
	require.NotNil(t, invitation.InvitedEmail)
	require.Equal(t, "a@x.com", *invitation.InvitedEmail)
	require.Equal(t, current.Add(defaultInvitationExpiry), invitation.ExpiresAt)

	// A user registers with the same address in a different case.
	invited := seedUser(t, db, "invited-1", "A@X.com")
	linked, err := svc.LinkPendingInvitations(context.Background(), invited)
	require.NoError(t, err)
	require.EqualValues(t, 1, linked)

	stored := reloadInvitation(t, db, invitation.ID)
	require.Nil(t, stored.InvitedEmail)
	require.NotNil(t, stored.InvitedUserID)
	require.Equal(t, invited.ID, *stored.InvitedUserID)

	accepted, err := svc.Accept(context.Background(), invitation.ID, invited.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
	require.EqualValues(t, 1, countMemberships(t, db, household.ID, invited.ID))

	var membership models.Membership
	require.NoError(t, db.First(&membership, "household_id = ? AND user_id = ?", household.ID, invited.ID).Error)
	require.Equal(t, models.HouseholdRoleMember, membership.Role)
}

func TestSendDuplicatePendingInvitationConflicts(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	_, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("guest@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	// Same identity regardless of email casing.
	_, err = svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("Guest@Example.com"),
		Role:    models.HouseholdRoleAdmin,
	})
	require.ErrorIs(t, err, ErrDuplicateInvitation)
	require.True(t, apperrors.IsConflict(err))
}

func TestSendToExistingMemberRejected(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	member := seedUser(t, db, "member-1", "member@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, household.ID, member.ID, models.HouseholdRoleMember)

	_, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(member.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.ErrorIs(t, err, ErrAlreadyMember)
	require.True(t, apperrors.IsBusinessRule(err))

	// Inviting by the member's email resolves to the account and fails the same way.
	_, err = svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("Member@Example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestSelfInvitationRejected(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	_, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(owner.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestSendRequiresManagerRole(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	member := seedUser(t, db, "member-1", "member@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, household.ID, member.ID, models.HouseholdRoleMember)

	_, err := svc.Send(context.Background(), household.ID, member.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("guest@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestAcceptExpiredInvitation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestInvitationService(t, db, func() time.Time { return current })

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	invited := seedUser(t, db, "invited-1", "invited@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	current = current.Add(8 * 24 * time.Hour)

	_, err = svc.Accept(context.Background(), invitation.ID, invited.ID)
	require.ErrorIs(t, err, ErrInvitationExpired)
	require.True(t, apperrors.IsResourceState(err))

	stored := reloadInvitation(t, db, invitation.ID)
	require.Equal(t, models.InvitationExpired, stored.Status)
	require.EqualValues(t, 0, countMemberships(t, db, household.ID, invited.ID))
}

func TestAcceptByWrongUserForbidden(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	invited := seedUser(t, db, "invited-1", "invited@example.com")
	stranger := seedUser(t, db, "stranger-1", "stranger@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), invitation.ID, stranger.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	stored := reloadInvitation(t, db, invitation.ID)
	require.Equal(t, models.InvitationPending, stored.Status)
}

func TestCancelByMemberForbidden(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	member := seedUser(t, db, "member-1", "member@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, household.ID, member.ID, models.HouseholdRoleMember)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("guest@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), household.ID, invitation.ID, member.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	stored := reloadInvitation(t, db, invitation.ID)
	require.Equal(t, models.InvitationPending, stored.Status)
}

func TestCancelLeavesNoMembership(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	invited := seedUser(t, db, "invited-1", "invited@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), household.ID, invitation.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationCancelled, cancelled.Status)
	require.EqualValues(t, 0, countMemberships(t, db, household.ID, invited.ID))

	// Terminal states absorb every further operation.
	_, err = svc.Accept(context.Background(), invitation.ID, invited.ID)
	require.ErrorIs(t, err, ErrInvitationNotPending)
}

func TestDeclineLeavesNoMembership(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	invited := seedUser(t, db, "invited-1", "invited@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	declined, err := svc.Decline(context.Background(), invitation.ID, invited.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
	require.EqualValues(t, 0, countMemberships(t, db, household.ID, invited.ID))
}

func TestLinkedInvitationBehavesLikeUserInvitation(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("late@example.com"),
		Role:    models.HouseholdRoleAdmin,
	})
	require.NoError(t, err)

	invited := seedUser(t, db, "late-1", "late@example.com")
	linked, err := svc.LinkPendingInvitations(context.Background(), invited)
	require.NoError(t, err)
	require.EqualValues(t, 1, linked)

	// Linking is idempotent: nothing left to rewrite.
	linked, err = svc.LinkPendingInvitations(context.Background(), invited)
	require.NoError(t, err)
	require.EqualValues(t, 0, linked)

	stored := reloadInvitation(t, db, invitation.ID)
	require.Nil(t, stored.InvitedEmail)
	userID, ok := stored.Invitee().UserID()
	require.True(t, ok)
	require.Equal(t, invited.ID, userID)

	declined, err := svc.Decline(context.Background(), invitation.ID, invited.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationDeclined, declined.Status)
}

func TestLinkCancelsRedundantEmailDuplicate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	emailInvite, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("dual@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	// The same person is later invited by account id before linking ran.
	invited := seedUser(t, db, "dual-1", "dual@example.com")
	userInvite, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	linked, err := svc.LinkPendingInvitations(context.Background(), invited)
	require.NoError(t, err)
	require.EqualValues(t, 0, linked)

	require.Equal(t, models.InvitationCancelled, reloadInvitation(t, db, emailInvite.ID).Status)
	require.Equal(t, models.InvitationPending, reloadInvitation(t, db, userInvite.ID).Status)
}

func TestResendExtendsExpiry(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestInvitationService(t, db, func() time.Time { return current })

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("guest@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	current = current.Add(3 * 24 * time.Hour)

	resent, err := svc.Resend(context.Background(), household.ID, invitation.ID, owner.ID, ResendInvitationInput{})
	require.NoError(t, err)
	require.Equal(t, models.InvitationPending, resent.Status)
	require.Equal(t, current.Add(defaultInvitationExpiry), resent.ExpiresAt)

	pinned := current.Add(48 * time.Hour)
	resent, err = svc.Resend(context.Background(), household.ID, invitation.ID, owner.ID, ResendInvitationInput{ExpiresAt: &pinned})
	require.NoError(t, err)
	require.Equal(t, pinned, resent.ExpiresAt)
}

func TestUpdatePendingOnly(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	invitation, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("guest@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	admin := models.HouseholdRoleAdmin
	updated, err := svc.Update(context.Background(), household.ID, invitation.ID, owner.ID, UpdateInvitationInput{Role: &admin})
	require.NoError(t, err)
	require.Equal(t, models.HouseholdRoleAdmin, updated.Role)

	_, err = svc.Cancel(context.Background(), household.ID, invitation.ID, owner.ID)
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), household.ID, invitation.ID, owner.ID, UpdateInvitationInput{Role: &admin})
	require.ErrorIs(t, err, ErrInvitationNotPending)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestInvitationService(t, db, func() time.Time { return current })

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)

	for _, email := range []string{"one@example.com", "two@example.com"} {
		_, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
			Invitee: models.InviteeByEmail(email),
			Role:    models.HouseholdRoleMember,
		})
		require.NoError(t, err)
	}

	// One invitation is kept alive past the cut-off.
	fresh, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("three@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)
	farOut := current.Add(30 * 24 * time.Hour)
	_, err = svc.Resend(context.Background(), household.ID, fresh.ID, owner.ID, ResendInvitationInput{ExpiresAt: &farOut})
	require.NoError(t, err)

	cutoff := current.Add(8 * 24 * time.Hour)

	expired, err := svc.SweepExpired(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, expired)

	expired, err = svc.SweepExpired(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 0, expired)

	var pending int64
	require.NoError(t, db.Model(&models.Invitation{}).
		Where("status = ?", models.InvitationPending).
		Count(&pending).Error)
	require.EqualValues(t, 1, pending)

	// Sweeping frees the pending-identity slot for a fresh invitation.
	_, err = svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("one@example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)
}

func TestListForInvitee(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newTestInvitationService(t, db, nil)

	owner := seedUser(t, db, "owner-1", "owner@example.com")
	invited := seedUser(t, db, "invited-1", "invited@example.com")
	household := seedHousehold(t, db, "Maple Street")
	other := seedHousehold(t, db, "Oak Avenue")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, other.ID, owner.ID, models.HouseholdRoleOwner)

	_, err := svc.Send(context.Background(), household.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByUser(invited.ID),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), other.ID, owner.ID, SendInvitationInput{
		Invitee: models.InviteeByEmail("Invited@Example.com"),
		Role:    models.HouseholdRoleMember,
	})
	require.NoError(t, err)

	invitations, err := svc.ListForInvitee(context.Background(), invited.ID)
	require.NoError(t, err)
	require.Len(t, invitations, 2)
}
