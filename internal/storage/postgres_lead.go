package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// --- Lead Repository Methods ---

// CreateLead inserts a new lead for the tenant in context.
func (r *PostgresRepo) CreateLead(ctx context.Context, lead model.Lead) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if agencyID != lead.AgencyID {
		return fmt.Errorf("%w: lead AgencyID %s does not match tenant ID %s", apperrors.ErrBadRequest, lead.AgencyID, agencyID)
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(&lead).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateLead", operation)
	observer.ObserveDbOperationDuration("create", "lead", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to create lead after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// LeadExistsByEmail reports whether the tenant already has a lead with the
// given non-empty email.
func (r *PostgresRepo) LeadExistsByEmail(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	return r.leadExists(ctx, "email = ?", email)
}

// LeadExistsByPhone reports whether the tenant already has a lead with the
// given non-empty phone.
func (r *PostgresRepo) LeadExistsByPhone(ctx context.Context, phone string) (bool, error) {
	if phone == "" {
		return false, nil
	}
	return r.leadExists(ctx, "phone = ?", phone)
}

func (r *PostgresRepo) leadExists(ctx context.Context, query string, arg string) (bool, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var count int64
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.Lead{}).
			Where("agency_id = ?", agencyID).
			Where(query, arg).
			Count(&count).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "LeadExists", operation)
	observer.ObserveDbOperationDuration("exists", "lead", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return false, fmt.Errorf("%w: failed to check lead existence: %w", apperrors.ErrDatabase, readErr)
	}
	return count > 0, nil
}

// FindLeadByID fetches one lead scoped to the tenant in context.
func (r *PostgresRepo) FindLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var lead model.Lead
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("id = ? AND agency_id = ?", id, agencyID).
			First(&lead).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindLeadByID", operation)
	observer.ObserveDbOperationDuration("find", "lead", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		if errors.Is(readErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: lead %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to find lead: %w", apperrors.ErrDatabase, readErr)
	}
	return &lead, nil
}

// CountLeads returns the number of leads for the tenant in context.
func (r *PostgresRepo) CountLeads(ctx context.Context) (int64, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var count int64
	operation := func() error {
		return r.db.WithContext(ctx).
			Model(&model.Lead{}).
			Where("agency_id = ?", agencyID).
			Count(&count).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "CountLeads", operation)
	observer.ObserveDbOperationDuration("count", "lead", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return 0, fmt.Errorf("%w: failed to count leads: %w", apperrors.ErrDatabase, readErr)
	}
	return count, nil
}
