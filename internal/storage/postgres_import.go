package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// --- Import Job Repository Methods ---

// CreateImportJob inserts a new import job for the tenant in context.
func (r *PostgresRepo) CreateImportJob(ctx context.Context, job model.ImportJob) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if agencyID != job.AgencyID {
		return fmt.Errorf("%w: job AgencyID %s does not match tenant ID %s", apperrors.ErrBadRequest, job.AgencyID, agencyID)
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&job).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateImportJob", operation)
	observer.ObserveDbOperationDuration("create", "import_job", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to create import job after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// GetImportJob fetches one import job scoped to the tenant in context.
func (r *PostgresRepo) GetImportJob(ctx context.Context, id string) (*model.ImportJob, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var job model.ImportJob
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("id = ? AND agency_id = ?", id, agencyID).
			First(&job).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "GetImportJob", operation)
	observer.ObserveDbOperationDuration("find", "import_job", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		if errors.Is(readErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: import job %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to find import job: %w", apperrors.ErrDatabase, readErr)
	}
	return &job, nil
}

// ListImportJobs returns the tenant's most recent import jobs.
func (r *PostgresRepo) ListImportJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if limit <= 0 {
		limit = 50
	}

	var jobs []model.ImportJob
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("agency_id = ?", agencyID).
			Order("created_at DESC").
			Limit(limit).
			Find(&jobs).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "ListImportJobs", operation)
	observer.ObserveDbOperationDuration("list", "import_job", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to list import jobs: %w", apperrors.ErrDatabase, readErr)
	}
	return jobs, nil
}

// MarkJobProcessing moves a pending job into the processing status. The WHERE
// guard keeps status transitions forward-only: a completed or errored job is
// never pulled back.
func (r *PostgresRepo) MarkJobProcessing(ctx context.Context, id string) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.ImportJob{}).
			Where("id = ? AND agency_id = ? AND status = ?", id, agencyID, model.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"updated_at": utils.Now(),
			})
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkJobProcessing", operation)
	observer.ObserveDbOperationDuration("update", "import_job", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return fmt.Errorf("%w: failed to mark job processing: %w", apperrors.ErrDatabase, commitErr)
	}
	return nil
}

// UpdateJobAggregates writes re-counted totals and the given status to the job.
// Terminal statuses only apply while the job is still pending or processing.
func (r *PostgresRepo) UpdateJobAggregates(ctx context.Context, id string, counts model.RowCounts, status string, errorDetails datatypes.JSON) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	updates := map[string]interface{}{
		"total_rows":     counts.Total,
		"processed_rows": counts.Processed(),
		"success_count":  counts.Succeeded,
		"error_count":    counts.Failed,
		"status":         status,
		"updated_at":     utils.Now(),
	}
	if errorDetails != nil {
		updates["error_details"] = errorDetails
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.ImportJob{}).
			Where("id = ? AND agency_id = ? AND status IN ?", id, agencyID,
				[]string{model.JobStatusPending, model.JobStatusProcessing}).
			Updates(updates)
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateJobAggregates", operation)
	observer.ObserveDbOperationDuration("update", "import_job", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update job aggregates after retries", zap.Error(commitErr))
		return fmt.Errorf("%w: failed to update job aggregates: %w", apperrors.ErrDatabase, commitErr)
	}
	return nil
}

// FindStalledJobs returns processing jobs untouched since the given cutoff.
// Used by the maintenance sweeper to finalize orphaned imports.
func (r *PostgresRepo) FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.ImportJob, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var jobs []model.ImportJob
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("agency_id = ? AND status = ? AND updated_at < ?", agencyID, model.JobStatusProcessing, cutoff).
			Find(&jobs).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindStalledJobs", operation)
	observer.ObserveDbOperationDuration("list", "import_job", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to find stalled jobs: %w", apperrors.ErrDatabase, readErr)
	}
	return jobs, nil
}

// MarkJobError finalizes a job as errored. Forward-only like the other
// transitions: completed jobs are untouched.
func (r *PostgresRepo) MarkJobError(ctx context.Context, id string, detail model.RowError) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.ImportJob{}).
			Where("id = ? AND agency_id = ? AND status IN ?", id, agencyID,
				[]string{model.JobStatusPending, model.JobStatusProcessing}).
			Updates(map[string]interface{}{
				"status":        model.JobStatusError,
				"error_details": datatypes.JSON(utils.MustMarshalJSON([]model.RowError{detail})),
				"updated_at":    utils.Now(),
			})
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkJobError", operation)
	observer.ObserveDbOperationDuration("update", "import_job", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return fmt.Errorf("%w: failed to mark job errored: %w", apperrors.ErrDatabase, commitErr)
	}
	return nil
}

// --- Import Job Row Repository Methods ---

// UpsertImportRows inserts row records with ignore-duplicates semantics on the
// (import_job_id, row_hash) primary key. Re-delivering identical content for
// the same job is a silent no-op, which turns at-least-once chunk delivery
// into exactly-once processing per distinct content.
func (r *PostgresRepo) UpsertImportRows(ctx context.Context, rows []model.ImportJobRow) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if len(rows) == 0 {
		return nil
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "import_job_id"}, {Name: "row_hash"}},
			DoNothing: true,
		}).Create(&rows)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpsertImportRows", operation)
	observer.ObserveDbOperationDuration("bulk_upsert", "import_job_row", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to upsert import rows after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindPendingRowsByHashes returns the still-pending subset of the given hashes
// for one job. Rows that already settled in an earlier delivery are excluded,
// so a retried chunk never reprocesses them.
func (r *PostgresRepo) FindPendingRowsByHashes(ctx context.Context, jobID string, hashes []string) ([]model.ImportJobRow, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var rows []model.ImportJobRow
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("import_job_id = ? AND status = ? AND row_hash IN ?", jobID, model.RowStatusPending, hashes).
			Find(&rows).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindPendingRowsByHashes", operation)
	observer.ObserveDbOperationDuration("list", "import_job_row", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to find pending rows: %w", apperrors.ErrDatabase, readErr)
	}
	return rows, nil
}

// MarkRowProcessed settles one row into a terminal status. The WHERE guard on
// the pending status makes the transition exactly-once.
func (r *PostgresRepo) MarkRowProcessed(ctx context.Context, jobID, rowHash, status, errorMessage string) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if status != model.RowStatusSucceeded && status != model.RowStatusFailed {
		return fmt.Errorf("%w: invalid terminal row status %q", apperrors.ErrBadRequest, status)
	}

	now := utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).
			Model(&model.ImportJobRow{}).
			Where("import_job_id = ? AND row_hash = ? AND status = ?", jobID, rowHash, model.RowStatusPending).
			Updates(map[string]interface{}{
				"status":        status,
				"error_message": errorMessage,
				"processed_at":  now,
			})
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkRowProcessed", operation)
	observer.ObserveDbOperationDuration("update", "import_job_row", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return fmt.Errorf("%w: failed to mark row processed: %w", apperrors.ErrDatabase, commitErr)
	}
	return nil
}

// CountJobRows recomputes the per-status counts for one job from scratch.
// Aggregates are never incremented locally; this query is the single source
// of truth, which keeps totals correct under retried or overlapping chunk
// submissions.
func (r *PostgresRepo) CountJobRows(ctx context.Context, jobID string) (model.RowCounts, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return model.RowCounts{}, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	type statusCount struct {
		Status string
		N      int
	}

	var perStatus []statusCount
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.ImportJobRow{}).
			Select("status, count(*) as n").
			Where("import_job_id = ?", jobID).
			Group("status").
			Scan(&perStatus).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "CountJobRows", operation)
	observer.ObserveDbOperationDuration("count", "import_job_row", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return model.RowCounts{}, fmt.Errorf("%w: failed to count job rows: %w", apperrors.ErrDatabase, readErr)
	}

	var counts model.RowCounts
	for _, sc := range perStatus {
		counts.Total += sc.N
		switch sc.Status {
		case model.RowStatusSucceeded:
			counts.Succeeded = sc.N
		case model.RowStatusFailed:
			counts.Failed = sc.N
		case model.RowStatusPending:
			counts.Pending = sc.N
		}
	}
	return counts, nil
}

// ListFailedRows returns the failed rows for one job, ordered by creation,
// used to build the error report and the job's error_details.
func (r *PostgresRepo) ListFailedRows(ctx context.Context, jobID string) ([]model.ImportJobRow, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var rows []model.ImportJobRow
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("import_job_id = ? AND status = ?", jobID, model.RowStatusFailed).
			Order("created_at").
			Find(&rows).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "ListFailedRows", operation)
	observer.ObserveDbOperationDuration("list", "import_job_row", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to list failed rows: %w", apperrors.ErrDatabase, readErr)
	}
	return rows, nil
}
