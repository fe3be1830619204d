package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/guard"
	"github.com/openlarder/larder/internal/models"
	apperrors "github.com/openlarder/larder/pkg/errors"
	"github.com/openlarder/larder/pkg/logger"
	"github.com/openlarder/larder/pkg/metrics"
	"github.com/openlarder/larder/pkg/validator"
)

const defaultInvitationExpiry = 7 * 24 * time.Hour

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationExpiry overrides the default invitation lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService drives the invitation state machine: pending invitations
// are created by household managers and leave the pending state exactly once,
// into accepted, declined, cancelled or expired.
type InvitationService struct {
	db      *gorm.DB
	audit   *AuditService
	checker PermissionChecker
	expiry  time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewInvitationService constructs an InvitationService with the provided dependencies.
func NewInvitationService(db *gorm.DB, checker PermissionChecker, audit *AuditService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if checker == nil {
		return nil, errors.New("invitation service: permission checker is required")
	}

	service := &InvitationService{
		db:      db,
		audit:   audit,
		checker: checker,
		expiry:  defaultInvitationExpiry,
		now:     time.Now,
		log:     logger.WithModule("invitations"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SendInvitationInput captures a new invitation request.
type SendInvitationInput struct {
	Invitee models.Invitee       `json:"-"`
	Role    models.HouseholdRole `json:"role" validate:"required,oneof=owner admin member"`
}

// Send creates a pending invitation for the household. The actor must be able
// to modify the household. Inviting an existing member (including yourself)
// fails the membership check, and a second pending invitation for the same
// invitee identity is a conflict.
func (s *InvitationService) Send(ctx context.Context, householdID, actorID string, input SendInvitationInput) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	if input.Invitee.IsZero() {
		return nil, apperrors.NewBadRequest("invitee user id or email is required")
	}

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Invitation, error) {
		if _, err := s.loadHousehold(ctx, householdID); err != nil {
			return nil, err
		}

		invitee, err := s.resolveInvitee(ctx, input.Invitee)
		if err != nil {
			return nil, err
		}

		if userID, ok := invitee.UserID(); ok {
			member, err := s.membershipExists(ctx, householdID, userID)
			if err != nil {
				return nil, err
			}
			if member {
				return nil, ErrAlreadyMember
			}
		}

		key := invitee.Key()
		var pending int64
		err = s.db.WithContext(ctx).
			Model(&models.Invitation{}).
			Where("household_id = ? AND invitee_key = ? AND status = ?", householdID, key, models.InvitationPending).
			Count(&pending).Error
		if err != nil {
			return nil, fmt.Errorf("invitation service: check pending: %w", err)
		}
		if pending > 0 {
			return nil, ErrDuplicateInvitation
		}

		now := s.now()
		invitation := &models.Invitation{
			HouseholdID: householdID,
			InviterID:   actorID,
			Role:        input.Role,
			Status:      models.InvitationPending,
			InviteeKey:  &key,
			ExpiresAt:   now.Add(s.expiry),
		}
		if userID, ok := invitee.UserID(); ok {
			invitation.InvitedUserID = &userID
		} else if email, ok := invitee.Email(); ok {
			invitation.InvitedEmail = &email
		}

		if err := s.db.WithContext(ctx).Create(invitation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, ErrDuplicateInvitation
			}
			return nil, fmt.Errorf("invitation service: create invitation: %w", err)
		}

		metrics.InvitationTransitions.WithLabelValues(string(models.InvitationPending)).Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "invitation.send",
			Resource: invitation.ID,
			Result:   "success",
			Metadata: map[string]any{"household_id": householdID, "role": string(input.Role)},
		})

		return invitation, nil
	})
}

// Accept transitions a pending invitation to accepted and creates the
// membership. Only the invited identity may accept: the invited account, or
// for unlinked email invitations any account bearing that email, which links
// the invitation as a side effect.
func (s *InvitationService) Accept(ctx context.Context, invitationID, actorID string) (*models.Invitation, error) {
	return s.resolveByInvitee(ctx, invitationID, actorID, models.InvitationAccepted)
}

// Decline transitions a pending invitation to declined. Same preconditions as
// Accept; no membership is created.
func (s *InvitationService) Decline(ctx context.Context, invitationID, actorID string) (*models.Invitation, error) {
	return s.resolveByInvitee(ctx, invitationID, actorID, models.InvitationDeclined)
}

func (s *InvitationService) resolveByInvitee(ctx context.Context, invitationID, actorID string, target models.InvitationStatus) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.loadInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	actor, err := s.loadUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if invitation.Status != models.InvitationPending {
		return nil, ErrInvitationNotPending
	}

	now := s.now()
	if invitation.ExpiredAt(now) {
		if err := s.transition(ctx, invitation, models.InvitationExpired, nil); err != nil {
			return nil, err
		}
		return nil, ErrInvitationExpired
	}

	if !invitation.AddressedTo(actor) {
		return nil, apperrors.ErrForbidden
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Email invitations are linked on the way through so the stored row
		// always reflects the account that resolved it.
		extra := map[string]any{}
		if invitation.InvitedUserID == nil {
			extra["invited_user_id"] = actor.ID
			extra["invited_email"] = nil
		}

		if target == models.InvitationAccepted {
			membership := &models.Membership{
				HouseholdID: invitation.HouseholdID,
				UserID:      actor.ID,
				Role:        invitation.Role,
			}
			if err := tx.Create(membership).Error; err != nil {
				if isUniqueConstraintError(err) {
					return ErrDuplicateMembership
				}
				return fmt.Errorf("invitation service: create membership: %w", err)
			}
		}

		return s.transitionTx(tx, ctx, invitation, target, extra)
	})
	if err != nil {
		return nil, err
	}

	if invitation.InvitedUserID == nil {
		id := actor.ID
		invitation.InvitedUserID = &id
		invitation.InvitedEmail = nil
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorID,
		Action:   "invitation." + string(target),
		Resource: invitation.ID,
		Result:   "success",
		Metadata: map[string]any{"household_id": invitation.HouseholdID},
	})

	return invitation, nil
}

// Cancel withdraws a pending invitation. The actor must be able to modify the
// household the invitation belongs to.
func (s *InvitationService) Cancel(ctx context.Context, householdID, invitationID, actorID string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Invitation, error) {
		invitation, err := s.loadHouseholdInvitation(ctx, householdID, invitationID)
		if err != nil {
			return nil, err
		}

		if invitation.Status != models.InvitationPending {
			return nil, ErrInvitationNotPending
		}

		if err := s.transition(ctx, invitation, models.InvitationCancelled, nil); err != nil {
			return nil, err
		}

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "invitation.cancel",
			Resource: invitation.ID,
			Result:   "success",
			Metadata: map[string]any{"household_id": householdID},
		})

		return invitation, nil
	})
}

// UpdateInvitationInput describes mutable fields of a pending invitation.
type UpdateInvitationInput struct {
	Role      *models.HouseholdRole `json:"role" validate:"omitempty,oneof=owner admin member"`
	ExpiresAt *time.Time            `json:"expires_at"`
}

// Update changes the proposed role and/or deadline of a pending invitation.
func (s *InvitationService) Update(ctx context.Context, householdID, invitationID, actorID string, input UpdateInvitationInput) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Invitation, error) {
		invitation, err := s.loadHouseholdInvitation(ctx, householdID, invitationID)
		if err != nil {
			return nil, err
		}

		if invitation.Status != models.InvitationPending {
			return nil, ErrInvitationNotPending
		}

		updates := map[string]any{}
		if input.Role != nil && *input.Role != invitation.Role {
			updates["role"] = *input.Role
		}
		if input.ExpiresAt != nil {
			updates["expires_at"] = *input.ExpiresAt
		}
		if len(updates) == 0 {
			return invitation, nil
		}

		if err := s.applyPendingUpdate(ctx, invitation, updates); err != nil {
			return nil, err
		}

		if input.Role != nil {
			invitation.Role = *input.Role
		}
		if input.ExpiresAt != nil {
			invitation.ExpiresAt = *input.ExpiresAt
		}

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "invitation.update",
			Resource: invitation.ID,
			Result:   "success",
			Metadata: map[string]any{"household_id": householdID},
		})

		return invitation, nil
	})
}

// ResendInvitationInput optionally pins the new deadline of a resent invitation.
type ResendInvitationInput struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// Resend extends the deadline of a pending invitation, to the requested
// instant or to now plus the default window. The invitation stays pending.
func (s *InvitationService) Resend(ctx context.Context, householdID, invitationID, actorID string, input ResendInvitationInput) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	return guard.Run(ctx, []guard.Predicate{s.canModify(householdID, actorID)}, func(ctx context.Context) (*models.Invitation, error) {
		invitation, err := s.loadHouseholdInvitation(ctx, householdID, invitationID)
		if err != nil {
			return nil, err
		}

		if invitation.Status != models.InvitationPending {
			return nil, ErrInvitationNotPending
		}

		expires := s.now().Add(s.expiry)
		if input.ExpiresAt != nil {
			expires = *input.ExpiresAt
		}

		if err := s.applyPendingUpdate(ctx, invitation, map[string]any{"expires_at": expires}); err != nil {
			return nil, err
		}
		invitation.ExpiresAt = expires

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorID,
			Action:   "invitation.resend",
			Resource: invitation.ID,
			Result:   "success",
			Metadata: map[string]any{"household_id": householdID},
		})

		return invitation, nil
	})
}

// SweepExpired transitions every pending invitation whose deadline passed
// before now to expired. The sweep is idempotent and touches no memberships.
func (s *InvitationService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationPending, now).
		Updates(map[string]any{
			"status":      models.InvitationExpired,
			"invitee_key": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: sweep expired: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.SweepExpired.Add(float64(result.RowsAffected))
		metrics.InvitationTransitions.WithLabelValues(string(models.InvitationExpired)).Add(float64(result.RowsAffected))
		s.log.Info("expired pending invitations", zap.Int64("count", result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// ListForHousehold returns the household's invitations, newest first. The
// actor must have access to the household.
func (s *InvitationService) ListForHousehold(ctx context.Context, householdID, actorID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	return guard.Run(ctx, []guard.Predicate{s.canAccess(householdID, actorID)}, func(ctx context.Context) ([]models.Invitation, error) {
		var invitations []models.Invitation
		err := s.db.WithContext(ctx).
			Where("household_id = ?", householdID).
			Order("created_at DESC").
			Find(&invitations).Error
		if err != nil {
			return nil, fmt.Errorf("invitation service: list household invitations: %w", err)
		}
		return invitations, nil
	})
}

// ListForInvitee returns pending invitations addressed to the user, whether
// linked to the account or still targeting its email.
func (s *InvitationService) ListForInvitee(ctx context.Context, userID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var invitations []models.Invitation
	err = s.db.WithContext(ctx).
		Where("status = ?", models.InvitationPending).
		Where("invited_user_id = ? OR (invited_user_id IS NULL AND LOWER(invited_email) = ?)",
			user.ID, normaliseEmail(user.Email)).
		Order("created_at DESC").
		Find(&invitations).Error
	if err != nil {
		return nil, fmt.Errorf("invitation service: list invitee invitations: %w", err)
	}
	return invitations, nil
}

// LinkPendingInvitations rewrites pending email invitations matching the
// user's email so they target the account instead. It never accepts or
// declines anything, and running it again is a no-op once links are set. If a
// household already holds a pending invitation for the account itself, the
// email duplicate is cancelled rather than linked.
func (s *InvitationService) LinkPendingInvitations(ctx context.Context, user *models.User) (int64, error) {
	ctx = ensureContext(ctx)

	if user == nil || user.ID == "" {
		return 0, errors.New("invitation service: user is required")
	}
	email := normaliseEmail(user.Email)
	if email == "" {
		return 0, nil
	}

	var linked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var matches []models.Invitation
		if err := tx.
			Where("status = ? AND invited_user_id IS NULL AND LOWER(invited_email) = ?", models.InvitationPending, email).
			Find(&matches).Error; err != nil {
			return fmt.Errorf("invitation service: find unlinked invitations: %w", err)
		}

		for i := range matches {
			invitation := &matches[i]
			err := tx.Model(invitation).Updates(map[string]any{
				"invited_user_id": user.ID,
				"invited_email":   nil,
				"invitee_key":     user.ID,
			}).Error
			if err != nil {
				// The household already has a pending invitation addressed to
				// this account; the email copy is redundant.
				if isUniqueConstraintError(err) {
					if err := tx.Model(invitation).Updates(map[string]any{
						"status":      models.InvitationCancelled,
						"invitee_key": nil,
					}).Error; err != nil {
						return fmt.Errorf("invitation service: cancel duplicate: %w", err)
					}
					continue
				}
				return fmt.Errorf("invitation service: link invitation: %w", err)
			}
			linked++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if linked > 0 {
		metrics.InvitationsLinked.Add(float64(linked))
		s.log.Info("linked pending invitations",
			zap.String("user_id", user.ID), zap.Int64("count", linked))
	}

	return linked, nil
}

func (s *InvitationService) canModify(householdID, actorID string) guard.Predicate {
	return func(ctx context.Context) bool {
		return s.checker.CanModifyHousehold(ctx, actorID, householdID)
	}
}

func (s *InvitationService) canAccess(householdID, actorID string) guard.Predicate {
	return func(ctx context.Context) bool {
		return s.checker.CanAccessHousehold(ctx, actorID, householdID)
	}
}

// resolveInvitee upgrades an email invitee to an account invitee when an
// account bearing the address already exists, so identity comparisons use the
// user id from the start.
func (s *InvitationService) resolveInvitee(ctx context.Context, invitee models.Invitee) (models.Invitee, error) {
	if userID, ok := invitee.UserID(); ok {
		if _, err := s.loadUser(ctx, userID); err != nil {
			return models.Invitee{}, err
		}
		return invitee, nil
	}

	email, _ := invitee.Email()
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "LOWER(email) = ?", email).Error
	switch {
	case err == nil:
		return models.InviteeByUser(user.ID), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return invitee, nil
	default:
		return models.Invitee{}, fmt.Errorf("invitation service: resolve invitee: %w", err)
	}
}

// transition moves the invitation into a terminal state with an optimistic
// guard on the row still being pending; losing the race surfaces as a state
// conflict, never a silent overwrite.
func (s *InvitationService) transition(ctx context.Context, invitation *models.Invitation, target models.InvitationStatus, extra map[string]any) error {
	return s.transitionTx(s.db.WithContext(ctx), ctx, invitation, target, extra)
}

func (s *InvitationService) transitionTx(tx *gorm.DB, ctx context.Context, invitation *models.Invitation, target models.InvitationStatus, extra map[string]any) error {
	if !invitation.Status.CanTransition(target) {
		return ErrInvitationNotPending
	}

	updates := map[string]any{
		"status":      target,
		"invitee_key": nil,
	}
	for key, value := range extra {
		updates[key] = value
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("invitation service: transition to %s: %w", target, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationNotPending
	}

	invitation.Status = target
	invitation.InviteeKey = nil
	metrics.InvitationTransitions.WithLabelValues(string(target)).Inc()
	return nil
}

// applyPendingUpdate mutates a pending invitation in place, guarded the same
// way as a transition so concurrent terminal moves win.
func (s *InvitationService) applyPendingUpdate(ctx context.Context, invitation *models.Invitation, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("invitation service: update invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationNotPending
	}
	return nil
}

func (s *InvitationService) loadInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := s.db.WithContext(ctx).First(&invitation, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) loadHouseholdInvitation(ctx context.Context, householdID, invitationID string) (*models.Invitation, error) {
	invitation, err := s.loadInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.HouseholdID != householdID {
		return nil, ErrInvitationNotFound
	}
	return invitation, nil
}

func (s *InvitationService) loadHousehold(ctx context.Context, id string) (*models.Household, error) {
	var household models.Household
	err := s.db.WithContext(ctx).First(&household, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHouseholdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load household: %w", err)
	}
	return &household, nil
}

func (s *InvitationService) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load user: %w", err)
	}
	return &user, nil
}

func (s *InvitationService) membershipExists(ctx context.Context, householdID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("household_id = ? AND user_id = ?", householdID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("invitation service: check membership: %w", err)
	}
	return count > 0, nil
}
