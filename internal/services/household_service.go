package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/guard"
	"github.com/openlarder/larder/internal/models"
	apperrors "github.com/openlarder/larder/pkg/errors"
	"github.com/openlarder/larder/pkg/validator"
)

// CreateHouseholdInput captures new household metadata.
type CreateHouseholdInput struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// HouseholdService handles household lifecycle and membership management.
type HouseholdService struct {
	db      *gorm.DB
	audit   *AuditService
	checker PermissionChecker
}

// NewHouseholdService constructs a HouseholdService instance.
func NewHouseholdService(db *gorm.DB, checker PermissionChecker, audit *AuditService) (*HouseholdService, error) {
	if db == nil {
		return nil, errors.New("household service: db is required")
	}
	if checker == nil {
		return nil, errors.New("household service: permission checker is required")
	}
	return &HouseholdService{db: db, audit: audit, checker: checker}, nil
}

// Create registers a new household. The creating actor becomes its owner in
// the same transaction, so a household never exists without one.
func (s *HouseholdService) Create(ctx context.Context, actorID string, input CreateHouseholdInput) (*models.Household, error) {
	ctx = ensureContext(ctx)

	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	household := &models.Household{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(household).Error; err != nil {
			return fmt.Errorf("household service: create household: %w", err)
		}

		membership := &models.Membership{
			HouseholdID: household.ID,
			UserID:      actorID,
			Role:        models.HouseholdRoleOwner,
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("household service: create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		Action:   "household.create",
		Resource: household.ID,
		Result:   "success",
		Metadata: map[string]any{"name": household.Name},
	})

	return household, nil
}

// GetByID loads a household for an actor with access to it.
func (s *HouseholdService) GetByID(ctx context.Context, householdID, actorID string) (*models.Household, error) {
	ctx = ensureContext(ctx)

	return guard.Run(ctx, []guard.Predicate{s.canAccess(householdID, actorID)}, func(ctx context.Context) (*models.Household, error) {
		var household models.Household
		err := s.db.WithContext(ctx).
			Preload("Memberships.User").
			First(&household, "id = ?", householdID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHouseholdNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("household service: load household: %w", err)
		}
		return &household, nil
	})
}

// List returns the households the actor belongs to, oldest first.
func (s *HouseholdService) List(ctx context.Context, actorID string) ([]models.Household, error) {
	ctx = ensureContext(ctx)

	var households []models.Household
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.household_id = households.id").
		Where("memberships.user_id = ?", strings.TrimSpace(actorID)).
		Order("households.created_at ASC").
		Find(&households).Error
	if err != nil {
		return nil, fmt.Errorf("household service: list households: %w", err)
	}
	return households, nil
}

// AddMember attaches a user to the household directly, bypassing the
// invitation flow. The actor must be able to modify the household.
func (s *HouseholdService) AddMember(ctx context.Context, householdID, actorID, userID string, role models.HouseholdRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)

	if !models.ValidHouseholdRole(role) {
		return nil, apperrors.NewBadRequest("unknown household role")
	}

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Membership, error) {
		if err := s.mustExist(ctx, householdID, userID); err != nil {
			return nil, err
		}

		membership := &models.Membership{
			HouseholdID: householdID,
			UserID:      userID,
			Role:        role,
		}
		if err := s.db.WithContext(ctx).Create(membership).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, ErrDuplicateMembership
			}
			return nil, fmt.Errorf("household service: add member: %w", err)
		}

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "household.add_member",
			Resource: householdID,
			Result:   "success",
			Metadata: map[string]any{"user_id": userID, "role": string(role)},
		})

		return membership, nil
	})
}

// RemoveMember detaches a user from the household. The household's only owner
// cannot be removed.
func (s *HouseholdService) RemoveMember(ctx context.Context, householdID, actorID, userID string) error {
	ctx = ensureContext(ctx)

	op := guard.Require(s.canModify(householdID, actorID))(func(ctx context.Context) error {
		membership, err := s.loadMembership(ctx, householdID, userID)
		if err != nil {
			return err
		}

		if membership.Role == models.HouseholdRoleOwner {
			sole, err := s.soleOwner(ctx, householdID)
			if err != nil {
				return err
			}
			if sole {
				return ErrLastOwner
			}
		}

		if err := s.db.WithContext(ctx).Delete(membership).Error; err != nil {
			return fmt.Errorf("household service: remove member: %w", err)
		}

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "household.remove_member",
			Resource: householdID,
			Result:   "success",
			Metadata: map[string]any{"user_id": userID},
		})

		return nil
	})
	return op(ctx)
}

// SetMemberRole changes a member's household role. Demoting the only owner is
// rejected so the household always keeps one.
func (s *HouseholdService) SetMemberRole(ctx context.Context, householdID, actorID, userID string, role models.HouseholdRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)

	if !models.ValidHouseholdRole(role) {
		return nil, apperrors.NewBadRequest("unknown household role")
	}

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Membership, error) {
		membership, err := s.loadMembership(ctx, householdID, userID)
		if err != nil {
			return nil, err
		}
		if membership.Role == role {
			return membership, nil
		}

		if membership.Role == models.HouseholdRoleOwner && role != models.HouseholdRoleOwner {
			sole, err := s.soleOwner(ctx, householdID)
			if err != nil {
				return nil, err
			}
			if sole {
				return nil, ErrLastOwner
			}
		}

		if err := s.db.WithContext(ctx).Model(membership).Update("role", role).Error; err != nil {
			return nil, fmt.Errorf("household service: set member role: %w", err)
		}
		membership.Role = role

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "household.set_member_role",
			Resource: householdID,
			Result:   "success",
			Metadata: map[string]any{"user_id": userID, "role": string(role)},
		})

		return membership, nil
	})
}

// Leave removes the actor's own membership. Owners must transfer ownership
// first.
// TODO: ownership transfer operation; until it exists owners can only be
// replaced by promoting another member to owner and demoting themselves.
func (s *HouseholdService) Leave(ctx context.Context, householdID, actorID string) error {
	ctx = ensureContext(ctx)

	membership, err := s.loadMembership(ctx, householdID, actorID)
	if err != nil {
		return err
	}

	if membership.Role == models.HouseholdRoleOwner {
		return ErrOwnerCannotLeave
	}

	if err := s.db.WithContext(ctx).Delete(membership).Error; err != nil {
		return fmt.Errorf("household service: leave household: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		Action:   "household.leave",
		Resource: householdID,
		Result:   "success",
	})

	return nil
}

// ListMembers returns the household's memberships with users preloaded.
func (s *HouseholdService) ListMembers(ctx context.Context, householdID, actorID string) ([]models.Membership, error) {
	ctx = ensureContext(ctx)

	return guard.Run(ctx, []guard.Predicate{s.canAccess(householdID, actorID)}, func(ctx context.Context) ([]models.Membership, error) {
		var memberships []models.Membership
		err := s.db.WithContext(ctx).
			Preload("User").
			Where("household_id = ?", householdID).
			Order("created_at ASC").
			Find(&memberships).Error
		if err != nil {
			return nil, fmt.Errorf("household service: list members: %w", err)
		}
		return memberships, nil
	})
}

func (s *HouseholdService) canAccess(householdID, actorID string) guard.Predicate {
	return func(ctx context.Context) bool {
		return s.checker.CanAccessHousehold(ctx, actorID, householdID)
	}
}

func (s *HouseholdService) canModify(householdID, actorID string) guard.Predicate {
	return func(ctx context.Context) bool {
		return s.checker.CanModifyHousehold(ctx, actorID, householdID)
	}
}

func (s *HouseholdService) mustExist(ctx context.Context, householdID, userID string) error {
	var household models.Household
	if err := s.db.WithContext(ctx).Select("id").First(&household, "id = ?", householdID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrHouseholdNotFound
		}
		return fmt.Errorf("household service: load household: %w", err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Select("id").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("household service: load user: %w", err)
	}

	return nil
}

func (s *HouseholdService) loadMembership(ctx context.Context, householdID, userID string) (*models.Membership, error) {
	var membership models.Membership
	err := s.db.WithContext(ctx).
		First(&membership, "household_id = ? AND user_id = ?", householdID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("household service: load membership: %w", err)
	}
	return &membership, nil
}

func (s *HouseholdService) soleOwner(ctx context.Context, householdID string) (bool, error) {
	var owners int64
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("household_id = ? AND role = ?", householdID, models.HouseholdRoleOwner).
		Count(&owners).Error
	if err != nil {
		return false, fmt.Errorf("household service: count owners: %w", err)
	}
	return owners <= 1, nil
}
