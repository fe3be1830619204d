package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/database/testutil"
	"github.com/openlarder/larder/internal/models"
)

func seedUser(t *testing.T, db *gorm.DB, id string, role models.SystemRole) *models.User {
	t.Helper()
	user := &models.User{ID: id, Email: id + "@example.com", Role: role, Password: "placeholder"}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedHousehold(t *testing.T, db *gorm.DB, name string) *models.Household {
	t.Helper()
	household := &models.Household{Name: name}
	require.NoError(t, db.Create(household).Error)
	return household
}

func seedMembership(t *testing.T, db *gorm.DB, householdID, userID string, role models.HouseholdRole) {
	t.Helper()
	require.NoError(t, db.Create(&models.Membership{HouseholdID: householdID, UserID: userID, Role: role}).Error)
}

func newChecker(t *testing.T, db *gorm.DB) *Checker {
	t.Helper()
	checker, err := NewChecker(db)
	require.NoError(t, err)
	return checker
}

func TestCanAccessHouseholdTracksMembershipExistence(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	household := seedHousehold(t, db, "Maple Street")

	for _, role := range []models.HouseholdRole{models.HouseholdRoleOwner, models.HouseholdRoleAdmin, models.HouseholdRoleMember} {
		user := seedUser(t, db, "user-"+string(role), models.SystemRoleUser)
		require.False(t, checker.CanAccessHousehold(ctx, user.ID, household.ID))
		seedMembership(t, db, household.ID, user.ID, role)
		require.True(t, checker.CanAccessHousehold(ctx, user.ID, household.ID))
	}
}

func TestCanModifyHouseholdRoleTable(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	household := seedHousehold(t, db, "Maple Street")

	cases := []struct {
		role      models.HouseholdRole
		canModify bool
		isOwner   bool
	}{
		{models.HouseholdRoleOwner, true, true},
		{models.HouseholdRoleAdmin, true, false},
		{models.HouseholdRoleMember, false, false},
	}

	for _, tc := range cases {
		user := seedUser(t, db, "user-"+string(tc.role), models.SystemRoleUser)
		seedMembership(t, db, household.ID, user.ID, tc.role)

		require.Equal(t, tc.canModify, checker.CanModifyHousehold(ctx, user.ID, household.ID), "role %s", tc.role)
		require.Equal(t, tc.isOwner, checker.IsHouseholdOwner(ctx, user.ID, household.ID), "role %s", tc.role)
	}
}

func TestFailSecureOnMissingRows(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	require.False(t, checker.CanAccessHousehold(ctx, "", ""))
	require.False(t, checker.CanAccessHousehold(ctx, "ghost", "nowhere"))
	require.False(t, checker.CanModifyHousehold(ctx, "ghost", "nowhere"))
	require.False(t, checker.IsHouseholdOwner(ctx, "ghost", "nowhere"))
	require.False(t, checker.IsAdmin(ctx, "ghost"))
	require.False(t, checker.CanAccessLocation(ctx, "ghost", "nowhere"))
	require.False(t, checker.CanAccessPantryItem(ctx, "ghost", "nowhere"))
}

func TestProfileAccessRequiresSharedHousehold(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice", models.SystemRoleUser)
	bob := seedUser(t, db, "bob", models.SystemRoleUser)
	carol := seedUser(t, db, "carol", models.SystemRoleUser)

	shared := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, shared.ID, alice.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, shared.ID, bob.ID, models.HouseholdRoleMember)

	require.True(t, checker.CanAccessUserProfile(ctx, alice.ID, alice.ID))
	require.True(t, checker.CanAccessUserProfile(ctx, alice.ID, bob.ID))
	require.True(t, checker.CanAccessUserProfile(ctx, bob.ID, alice.ID))
	require.False(t, checker.CanAccessUserProfile(ctx, alice.ID, carol.ID))

	require.True(t, checker.CanModifyUserProfile(ctx, alice.ID, alice.ID))
	require.False(t, checker.CanModifyUserProfile(ctx, alice.ID, bob.ID))
}

func TestIsAdminUsesSystemRole(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	admin := seedUser(t, db, "root", models.SystemRoleAdmin)
	plain := seedUser(t, db, "plain", models.SystemRoleUser)

	require.True(t, checker.IsAdmin(ctx, admin.ID))
	require.False(t, checker.IsAdmin(ctx, plain.ID))
}

func TestResourceChecksResolveToHousehold(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	checker := newChecker(t, db)
	ctx := context.Background()

	owner := seedUser(t, db, "owner", models.SystemRoleUser)
	member := seedUser(t, db, "member", models.SystemRoleUser)
	outsider := seedUser(t, db, "outsider", models.SystemRoleUser)

	household := seedHousehold(t, db, "Maple Street")
	seedMembership(t, db, household.ID, owner.ID, models.HouseholdRoleOwner)
	seedMembership(t, db, household.ID, member.ID, models.HouseholdRoleMember)

	location := &models.Location{HouseholdID: household.ID, Name: "Fridge"}
	require.NoError(t, db.Create(location).Error)

	product := &models.Product{Name: "Oat Milk"}
	require.NoError(t, db.Create(product).Error)

	item := &models.PantryItem{LocationID: location.ID, ProductID: product.ID, Quantity: 2}
	require.NoError(t, db.Create(item).Error)

	require.True(t, checker.CanAccessLocation(ctx, member.ID, location.ID))
	require.False(t, checker.CanModifyLocation(ctx, member.ID, location.ID))
	require.True(t, checker.CanModifyLocation(ctx, owner.ID, location.ID))
	require.False(t, checker.CanAccessLocation(ctx, outsider.ID, location.ID))

	require.True(t, checker.CanAccessPantryItem(ctx, member.ID, item.ID))
	require.False(t, checker.CanModifyPantryItem(ctx, member.ID, item.ID))
	require.True(t, checker.CanModifyPantryItem(ctx, owner.ID, item.ID))
	require.False(t, checker.CanAccessPantryItem(ctx, outsider.ID, item.ID))
}
