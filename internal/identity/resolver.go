package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/models"
	"github.com/openlarder/larder/pkg/crypto"
	apperrors "github.com/openlarder/larder/pkg/errors"
	"github.com/openlarder/larder/pkg/logger"
	"github.com/openlarder/larder/pkg/metrics"
)

const placeholderSecretBytes = 32

// subjectPattern bounds what we accept as an externally issued account id.
var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9._:|-]{1,128}$`)

// InvitationLinker converts pending email invitations into account-addressed
// ones; see services.InvitationService.LinkPendingInvitations.
type InvitationLinker interface {
	LinkPendingInvitations(ctx context.Context, user *models.User) (int64, error)
}

// Resolver turns a verified claim set into a local user account, creating the
// account on first sight. Account creation is the one place invitations get
// the chance to link, so it also drives the linker.
type Resolver struct {
	db     *gorm.DB
	linker InvitationLinker
	log    *zap.Logger
}

// NewResolver constructs a Resolver. The linker is optional; without one,
// email invitations stay unlinked until the next resolver that has it.
func NewResolver(db *gorm.DB, linker InvitationLinker) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("identity resolver: db is required")
	}
	return &Resolver{
		db:     db,
		linker: linker,
		log:    logger.WithModule("identity"),
	}, nil
}

// Resolve looks up the user named by the claims' subject, creating the
// account lazily when absent. Missing subjects are an authentication failure;
// malformed subjects are rejected before touching the store.
func (r *Resolver) Resolve(ctx context.Context, claims Claims) (*models.User, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	subject := claims.SubjectID()
	if subject == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if !subjectPattern.MatchString(subject) {
		return nil, apperrors.ErrInvalidIdentity
	}

	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", subject).Error
	switch {
	case err == nil:
		return r.refresh(ctx, &user, claims)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return r.provision(ctx, subject, claims)
	default:
		return nil, fmt.Errorf("identity resolver: load user: %w", err)
	}
}

// refresh picks up an email the account has not carried before and gives the
// linker another chance with it. Anything else about the account is left alone.
func (r *Resolver) refresh(ctx context.Context, user *models.User, claims Claims) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" || strings.EqualFold(email, user.Email) {
		return user, nil
	}

	if err := r.db.WithContext(ctx).Model(user).Update("email", email).Error; err != nil {
		if isDuplicate(err) {
			// Another account already owns the address; keep the stored one.
			return user, nil
		}
		return nil, fmt.Errorf("identity resolver: update email: %w", err)
	}
	user.Email = email

	if r.linker != nil {
		if _, err := r.linker.LinkPendingInvitations(ctx, user); err != nil {
			r.log.Warn("linking pending invitations failed",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return user, nil
}

// provision creates the account from claims, falling back to synthesized
// placeholders for missing email or display name, then links any pending
// email invitations. A concurrent create for the same subject collapses onto
// the primary key and the winner's row is re-read.
func (r *Resolver) provision(ctx context.Context, subject string, claims Claims) (*models.User, error) {
	secret, err := crypto.RandomSecret(placeholderSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("identity resolver: generate placeholder secret: %w", err)
	}
	hashed, err := crypto.HashPassword(secret)
	if err != nil {
		return nil, fmt.Errorf("identity resolver: hash placeholder secret: %w", err)
	}

	user := &models.User{
		ID:          subject,
		Email:       r.deriveEmail(subject, claims),
		DisplayName: r.deriveDisplayName(subject, claims),
		Role:        models.SystemRoleUser,
		Password:    hashed,
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicate(err) {
			var existing models.User
			if lookupErr := r.db.WithContext(ctx).First(&existing, "id = ?", subject).Error; lookupErr == nil {
				return &existing, nil
			}
			return nil, fmt.Errorf("identity resolver: reload after duplicate: %w", err)
		}
		return nil, fmt.Errorf("identity resolver: create user: %w", err)
	}

	metrics.UsersProvisioned.Inc()
	r.log.Info("provisioned user from verified token",
		zap.String("user_id", user.ID), zap.String("email", user.Email))

	if r.linker != nil {
		if _, err := r.linker.LinkPendingInvitations(ctx, user); err != nil {
			// Linking is opportunistic; the next resolve retries it.
			r.log.Warn("linking pending invitations failed",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return user, nil
}

func (r *Resolver) deriveEmail(subject string, claims Claims) string {
	if email := strings.ToLower(strings.TrimSpace(claims.Email)); email != "" {
		return email
	}
	return strings.ToLower(subject) + "@placeholder.invalid"
}

func (r *Resolver) deriveDisplayName(subject string, claims Claims) string {
	if name := strings.TrimSpace(claims.DisplayName); name != "" {
		return name
	}
	if email := strings.TrimSpace(claims.Email); email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			return email[:at]
		}
	}
	if len(subject) > 8 {
		return "user-" + subject[:8]
	}
	return "user-" + subject
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate")
}
