package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/openlarder/larder/internal/models"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	ActorID  string
	Action   string
	Resource string
	Result   string
	Metadata map[string]any
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	log := models.AuditLog{
		Action:   strings.TrimSpace(entry.Action),
		Resource: strings.TrimSpace(entry.Resource),
		Result:   strings.TrimSpace(entry.Result),
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		log.Metadata = encoded
	}

	if actor := strings.TrimSpace(entry.ActorID); actor != "" {
		log.ActorID = &actor
	}

	return s.db.WithContext(ctx).Create(&log).Error
}

// List returns audit logs for a resource ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, resource string, limit int) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{}).Order("created_at DESC").Limit(limit)
	if resource = strings.TrimSpace(resource); resource != "" {
		query = query.Where("resource = ?", resource)
	}

	var logs []models.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan removes audit entries older than the retention window.
func (s *AuditService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	ctx = ensureContext(ctx)

	if days <= 0 {
		return 0, errors.New("audit service: retention days must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	_ = audit.Log(ctx, entry)
}
