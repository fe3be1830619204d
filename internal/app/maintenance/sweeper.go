package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/openlarder/larder/internal/services"
	"github.com/openlarder/larder/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSweepSpec          = "@hourly"
	defaultAuditSpec          = "@daily"
)

// Sweeper runs the time-based background jobs: expiring pending invitations
// past their deadline and pruning stale audit logs. Correctness never depends
// on the schedule; accept and decline re-check deadlines themselves, so the
// sweep only keeps the stored state tidy.
type Sweeper struct {
	invitations *services.InvitationService
	audit       *services.AuditService
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger
	retention   int

	sweepSchedule string
	auditSchedule string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepSchedule overrides the cron specification for the expiry sweep.
func WithSweepSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.sweepSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained.
func WithAuditRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.retention = days
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewSweeper(invitations *services.InvitationService, audit *services.AuditService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		invitations:   invitations,
		audit:         audit,
		now:           time.Now,
		retention:     defaultAuditRetentionDays,
		sweepSchedule: defaultSweepSpec,
		auditSchedule: defaultAuditSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return sweeper
}

// Start registers the jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.invitations != nil {
		if _, err := s.cron.AddFunc(s.sweepSchedule, func() {
			ctx := context.Background()
			if _, err := s.invitations.SweepExpired(ctx, s.now()); err != nil {
				s.log.Warn("invitation expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			ctx := context.Background()
			if _, err := s.audit.CleanupOlderThan(ctx, s.retention); err != nil {
				s.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Used in tests and during
// graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.invitations != nil {
		if _, err := s.invitations.SweepExpired(ctx, s.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.audit.CleanupOlderThan(ctx, s.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
