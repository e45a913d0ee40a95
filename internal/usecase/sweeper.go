package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/config"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

const (
	sweepTaskStalledJobs  = "stalled_jobs"
	sweepTaskInvitePurge  = "invitation_purge"
	stalledJobErrorDetail = "import stalled: no chunk activity within the processing window"
)

// sweepTask names a maintenance pass submitted to the pool.
type sweepTask struct {
	Ctx  context.Context
	Name string
}

// ISweeper defines the interface for the maintenance sweeper.
type ISweeper interface {
	Start(ctx context.Context)
	RunOnce(ctx context.Context)
	Stop()
}

// Sweeper periodically finalizes stalled import jobs and purges long-expired
// invitations. Tasks run on a shared worker pool; a panic in one task never
// takes down the process or the ticker.
type Sweeper struct {
	pool        *ants.PoolWithFunc
	imports     storage.ImportRepo
	invitations storage.InvitationRepo
	cfg         config.SweeperConfig
	agencyID    string
	baseLogger  *zap.Logger
	stopCh      chan struct{}
}

var _ ISweeper = (*Sweeper)(nil)

// NewSweeper creates the sweeper and its worker pool.
func NewSweeper(cfg config.SweeperConfig, agencyID string, imports storage.ImportRepo, invitations storage.InvitationRepo, baseLogger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		imports:     imports,
		invitations: invitations,
		cfg:         cfg,
		agencyID:    agencyID,
		baseLogger:  baseLogger.Named("sweeper"),
		stopCh:      make(chan struct{}),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(sweepTask)
		if !ok {
			s.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		s.runTask(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(err interface{}) {
			s.baseLogger.Error("Panic recovered in sweeper task", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper pool: %w", err)
	}
	s.pool = pool
	s.baseLogger.Info("Sweeper pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("orphan_age", cfg.OrphanAge),
		zap.Duration("expiry_grace", cfg.ExpiryGrace),
	)
	return s, nil
}

// Start launches the sweep ticker. It returns immediately; sweeps run until
// Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	utils.SafeGo(func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.baseLogger.Info("Sweeper loop stopped", zap.Error(ctx.Err()))
				return
			case <-s.stopCh:
				s.baseLogger.Info("Sweeper loop stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}, nil)
}

// RunOnce submits one round of maintenance tasks.
func (s *Sweeper) RunOnce(ctx context.Context) {
	taskCtx := tenant.WithAgencyID(ctx, s.agencyID)
	for _, name := range []string{sweepTaskStalledJobs, sweepTaskInvitePurge} {
		if err := s.pool.Invoke(sweepTask{Ctx: taskCtx, Name: name}); err != nil {
			s.baseLogger.Warn("Failed to submit sweep task",
				zap.String("task", name), zap.Error(err))
			observer.IncSweeperRun(name, "submit_error")
		}
	}
}

func (s *Sweeper) runTask(task sweepTask) {
	start := time.Now()
	status := "success"
	var err error

	switch task.Name {
	case sweepTaskStalledJobs:
		err = s.sweepStalledJobs(task.Ctx)
	case sweepTaskInvitePurge:
		err = s.purgeExpiredInvitations(task.Ctx)
	default:
		s.baseLogger.Error("Unknown sweep task", zap.String("task", task.Name))
		return
	}

	if err != nil {
		status = "failure"
		s.baseLogger.Error("Sweep task failed",
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		s.baseLogger.Debug("Sweep task finished",
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)))
	}
	observer.IncSweeperRun(task.Name, status)
}

// sweepStalledJobs marks processing jobs with no chunk activity inside the
// orphan window as errored so clients stop polling them forever.
func (s *Sweeper) sweepStalledJobs(ctx context.Context) error {
	cutoff := utils.Now().Add(-s.cfg.OrphanAge)
	jobs, err := s.imports.FindStalledJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stalled jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	var failed int
	for _, job := range jobs {
		detail := model.RowError{Message: stalledJobErrorDetail}
		if markErr := s.imports.MarkJobError(ctx, job.ID, detail); markErr != nil {
			failed++
			s.baseLogger.Warn("Failed to mark stalled job",
				zap.String("job_id", job.ID), zap.Error(markErr))
			continue
		}
		s.baseLogger.Info("Marked stalled import job as errored",
			zap.String("job_id", job.ID),
			zap.Time("last_update", job.UpdatedAt))
	}
	observer.AddSweeperItems(sweepTaskStalledJobs, int64(len(jobs)-failed))
	if failed > 0 {
		return fmt.Errorf("failed to mark %d of %d stalled jobs", failed, len(jobs))
	}
	return nil
}

// purgeExpiredInvitations deletes invitations whose expiry passed longer than
// the grace window ago. Recently expired ones are kept so usage pages can
// still show them.
func (s *Sweeper) purgeExpiredInvitations(ctx context.Context) error {
	cutoff := utils.Now().Add(-s.cfg.ExpiryGrace)
	purged, err := s.invitations.PurgeExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge expired invitations: %w", err)
	}
	if purged > 0 {
		s.baseLogger.Info("Purged expired invitations", zap.Int64("purged", purged))
	}
	observer.AddSweeperItems(sweepTaskInvitePurge, purged)
	return nil
}

// Stop halts the ticker and releases the pool.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	if s.pool != nil {
		s.baseLogger.Info("Releasing sweeper pool")
		start := time.Now()
		s.pool.Release()
		s.baseLogger.Info("Sweeper pool released", zap.Duration("duration", time.Since(start)))
	}
}
