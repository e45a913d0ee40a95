package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// GetAgency loads the tenant's agency record.
func (r *PostgresRepo) GetAgency(ctx context.Context) (*model.Agency, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var agency model.Agency
	operation := func() error {
		return r.db.WithContext(ctx).Where("id = ?", agencyID).First(&agency).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "GetAgency", operation)
	observer.ObserveDbOperationDuration("find", "agency", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		if errors.Is(readErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agency %s", apperrors.ErrNotFound, agencyID)
		}
		return nil, fmt.Errorf("%w: failed to find agency: %w", apperrors.ErrDatabase, readErr)
	}
	return &agency, nil
}

// SaveAgency creates or updates the agency record. Used by bootstrap and the
// admin CLI to set seat counts.
func (r *PostgresRepo) SaveAgency(ctx context.Context, agency model.Agency) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if agencyID != agency.ID {
		return fmt.Errorf("%w: agency ID %s does not match tenant ID %s", apperrors.ErrBadRequest, agency.ID, agencyID)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "seat_count", "updated_at"}),
		}).Create(&agency)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveAgency", operation)
	observer.ObserveDbOperationDuration("upsert", "agency", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save agency after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// GetMembership returns the tenant membership for one user, or ErrNotFound.
func (r *PostgresRepo) GetMembership(ctx context.Context, userID string) (*model.Membership, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var membership model.Membership
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("agency_id = ? AND user_id = ?", agencyID, userID).
			First(&membership).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "GetMembership", operation)
	observer.ObserveDbOperationDuration("find", "membership", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		if errors.Is(readErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: membership for user %s", apperrors.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("%w: failed to find membership: %w", apperrors.ErrDatabase, readErr)
	}
	return &membership, nil
}

// CountMembers returns the tenant's active membership count. Advisory reads
// only; seat admission decisions use the locked session counts instead.
func (r *PostgresRepo) CountMembers(ctx context.Context) (int, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var n int64
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.Membership{}).
			Where("agency_id = ? AND status = ?", agencyID, model.MemberStatusActive).
			Count(&n).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "CountMembers", operation)
	observer.ObserveDbOperationDuration("count", "membership", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return 0, fmt.Errorf("%w: failed to count members: %w", apperrors.ErrDatabase, readErr)
	}
	return int(n), nil
}

// CountPendingInvites returns the tenant's live invitation count. Advisory
// reads only, same caveat as CountMembers.
func (r *PostgresRepo) CountPendingInvites(ctx context.Context, now time.Time) (int, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var n int64
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.Invitation{}).
			Where("agency_id = ? AND accepted_at IS NULL AND expires_at > ?", agencyID, now).
			Count(&n).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "CountPendingInvites", operation)
	observer.ObserveDbOperationDuration("count", "invitation", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return 0, fmt.Errorf("%w: failed to count pending invitations: %w", apperrors.ErrDatabase, readErr)
	}
	return int(n), nil
}

// SaveAuditLogs appends audit entries in one batch. Audit writes are
// best-effort from callers' perspective but still retried here.
func (r *PostgresRepo) SaveAuditLogs(ctx context.Context, entries []model.AuditLog) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		if entries[i].AgencyID == "" {
			entries[i].AgencyID = agencyID
		}
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&entries).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveAuditLogs", operation)
	observer.ObserveDbOperationDuration("bulk_create", "audit_log", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save audit logs after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}
