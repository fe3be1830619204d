package permissions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/models"
	"github.com/openlarder/larder/pkg/logger"
	"github.com/openlarder/larder/pkg/metrics"
)

// Checker evaluates household-scoped access decisions. Every predicate is a
// plain boolean and fail-secure: a missing actor, missing resource or store
// failure yields false, never an error. Translating false into a Forbidden
// response is the caller's job.
type Checker struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewChecker constructs a permission checker backed by the provided database.
func NewChecker(db *gorm.DB) (*Checker, error) {
	if db == nil {
		return nil, errors.New("permission checker: db is required")
	}
	return &Checker{db: db, log: logger.WithModule("permissions")}, nil
}

// CanAccessHousehold reports whether the user holds any membership in the household.
func (c *Checker) CanAccessHousehold(ctx context.Context, userID, householdID string) bool {
	_, ok := c.membershipRole(ctx, userID, householdID)
	return c.observe("household.access", ok)
}

// CanModifyHousehold reports whether the user's membership role permits mutation.
func (c *Checker) CanModifyHousehold(ctx context.Context, userID, householdID string) bool {
	role, ok := c.membershipRole(ctx, userID, householdID)
	return c.observe("household.modify", ok && role.CanManage())
}

// IsHouseholdOwner reports whether the user is the household's owner.
func (c *Checker) IsHouseholdOwner(ctx context.Context, userID, householdID string) bool {
	role, ok := c.membershipRole(ctx, userID, householdID)
	return c.observe("household.owner", ok && role == models.HouseholdRoleOwner)
}

// CanAccessUserProfile reports whether the actor may view the target profile:
// themselves, or anyone they share at least one household with.
func (c *Checker) CanAccessUserProfile(ctx context.Context, actorID, targetID string) bool {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	if actorID == "" || targetID == "" {
		return c.observe("profile.access", false)
	}
	if actorID == targetID {
		return c.observe("profile.access", true)
	}

	var shared int64
	err := c.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("user_id = ?", actorID).
		Where("household_id IN (?)", c.db.Model(&models.Membership{}).
			Select("household_id").
			Where("user_id = ?", targetID)).
		Count(&shared).Error
	if err != nil {
		c.fail("profile.access", err)
		return false
	}
	return c.observe("profile.access", shared > 0)
}

// CanModifyUserProfile reports whether the actor may mutate the target profile.
// Only the profile owner may.
func (c *Checker) CanModifyUserProfile(ctx context.Context, actorID, targetID string) bool {
	actorID = strings.TrimSpace(actorID)
	return c.observe("profile.modify", actorID != "" && actorID == strings.TrimSpace(targetID))
}

// IsAdmin reports whether the user carries the platform-wide admin role.
func (c *Checker) IsAdmin(ctx context.Context, userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return c.observe("system.admin", false)
	}

	var user models.User
	err := c.db.WithContext(ctx).Select("id", "role").First(&user, "id = ?", userID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.fail("system.admin", err)
		}
		return c.observe("system.admin", false)
	}
	return c.observe("system.admin", user.IsAdmin())
}

// CanAccessLocation resolves the location's household and delegates.
func (c *Checker) CanAccessLocation(ctx context.Context, userID, locationID string) bool {
	householdID, ok := c.locationHousehold(ctx, locationID)
	return ok && c.CanAccessHousehold(ctx, userID, householdID)
}

// CanModifyLocation resolves the location's household and delegates.
func (c *Checker) CanModifyLocation(ctx context.Context, userID, locationID string) bool {
	householdID, ok := c.locationHousehold(ctx, locationID)
	return ok && c.CanModifyHousehold(ctx, userID, householdID)
}

// CanAccessPantryItem resolves the item's household via its location and delegates.
func (c *Checker) CanAccessPantryItem(ctx context.Context, userID, itemID string) bool {
	householdID, ok := c.itemHousehold(ctx, itemID)
	return ok && c.CanAccessHousehold(ctx, userID, householdID)
}

// CanModifyPantryItem resolves the item's household via its location and delegates.
func (c *Checker) CanModifyPantryItem(ctx context.Context, userID, itemID string) bool {
	householdID, ok := c.itemHousehold(ctx, itemID)
	return ok && c.CanModifyHousehold(ctx, userID, householdID)
}

func (c *Checker) membershipRole(ctx context.Context, userID, householdID string) (models.HouseholdRole, bool) {
	userID = strings.TrimSpace(userID)
	householdID = strings.TrimSpace(householdID)
	if userID == "" || householdID == "" {
		return "", false
	}

	var membership models.Membership
	err := c.db.WithContext(ctx).
		First(&membership, "household_id = ? AND user_id = ?", householdID, userID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.fail("membership.lookup", err)
		}
		return "", false
	}
	return membership.Role, true
}

func (c *Checker) locationHousehold(ctx context.Context, locationID string) (string, bool) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "", false
	}

	var location models.Location
	err := c.db.WithContext(ctx).Select("id", "household_id").First(&location, "id = ?", locationID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.fail("location.lookup", err)
		}
		return "", false
	}
	return location.HouseholdID, true
}

func (c *Checker) itemHousehold(ctx context.Context, itemID string) (string, bool) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", false
	}

	var item models.PantryItem
	err := c.db.WithContext(ctx).
		Preload("Location").
		First(&item, "id = ?", itemID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.fail("item.lookup", err)
		}
		return "", false
	}
	if item.Location == nil {
		return "", false
	}
	return item.Location.HouseholdID, true
}

func (c *Checker) observe(check string, allowed bool) bool {
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.PermissionChecks.WithLabelValues(check, result).Inc()
	return allowed
}

func (c *Checker) fail(check string, err error) {
	metrics.PermissionChecks.WithLabelValues(check, "error").Inc()
	c.log.Warn("permission check degraded to deny", zap.String("check", check), zap.Error(err))
}
