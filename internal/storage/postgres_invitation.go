package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
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

// SeatLockSession exposes the reads and writes permitted while the seat
// advisory lock is held. All of its queries run on the same pinned
// connection that holds the lock.
type SeatLockSession interface {
	Agency(ctx context.Context) (*model.Agency, error)
	CountActiveMembers(ctx context.Context) (int, error)
	CountPendingInvitations(ctx context.Context, now time.Time) (int, error)
	PendingInvitationEmails(ctx context.Context, now time.Time) (map[string]struct{}, error)
	MemberEmails(ctx context.Context) (map[string]struct{}, error)
	CreateInvitations(ctx context.Context, invitations []model.Invitation) error
}

// seatLockKey derives a stable signed 64-bit advisory lock key from the
// agency ID. Each agency serializes on its own key so unrelated agencies
// never contend.
func seatLockKey(agencyID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("invite:" + agencyID))
	return int64(h.Sum64())
}

// WithSeatLock runs fn under the agency's seat advisory lock. The lock is
// session-scoped, so the whole critical section, acquisition, fn, and
// release, runs on one pinned connection. Acquisition uses the non-blocking
// try variant with bounded retries; callers get ErrLockUnavailable instead
// of queueing behind a slow holder.
func (r *PostgresRepo) WithSeatLock(ctx context.Context, agencyID string, attempts int, retryWait time.Duration, fn func(ctx context.Context, s SeatLockSession) error) error {
	ctxAgencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if ctxAgencyID != agencyID {
		return fmt.Errorf("%w: agency ID %s does not match tenant ID %s", apperrors.ErrBadRequest, agencyID, ctxAgencyID)
	}
	if attempts <= 0 {
		attempts = 1
	}

	key := seatLockKey(agencyID)
	log := logger.FromContext(ctx)

	return r.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		acquired := false
		for attempt := 1; attempt <= attempts; attempt++ {
			if lockErr := conn.Raw("SELECT pg_try_advisory_lock(?::bigint)", key).Scan(&acquired).Error; lockErr != nil {
				return fmt.Errorf("%w: failed to acquire seat lock: %w", apperrors.ErrDatabase, lockErr)
			}
			if acquired {
				break
			}
			if attempt < attempts {
				select {
				case <-ctx.Done():
					return fmt.Errorf("%w: context cancelled while waiting for seat lock: %w", apperrors.ErrTimeout, ctx.Err())
				case <-time.After(retryWait):
				}
			}
		}
		if !acquired {
			observer.IncSeatLockFailures(agencyID)
			log.Warn("Seat lock unavailable after retries",
				zap.String("agency_id", agencyID),
				zap.Int("attempts", attempts))
			return fmt.Errorf("%w: seat lock for agency %s held elsewhere", apperrors.ErrLockUnavailable, agencyID)
		}

		lockedAt := utils.Now()
		defer func() {
			var released bool
			if unlockErr := conn.Raw("SELECT pg_advisory_unlock(?::bigint)", key).Scan(&released).Error; unlockErr != nil {
				log.Error("Failed to release seat lock", zap.Error(unlockErr), zap.String("agency_id", agencyID))
			} else if !released {
				log.Error("Seat lock was not held at release", zap.String("agency_id", agencyID))
			}
			observer.ObserveSeatLockHold(agencyID, time.Since(lockedAt))
		}()

		return fn(ctx, &seatLockSession{conn: conn, agencyID: agencyID})
	})
}

type seatLockSession struct {
	conn     *gorm.DB
	agencyID string
}

func (s *seatLockSession) Agency(ctx context.Context) (*model.Agency, error) {
	var agency model.Agency
	err := s.conn.WithContext(ctx).Where("id = ?", s.agencyID).First(&agency).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agency %s", apperrors.ErrNotFound, s.agencyID)
		}
		return nil, fmt.Errorf("%w: failed to load agency: %w", apperrors.ErrDatabase, err)
	}
	return &agency, nil
}

func (s *seatLockSession) CountActiveMembers(ctx context.Context) (int, error) {
	var n int64
	err := s.conn.WithContext(ctx).
		Model(&model.Membership{}).
		Where("agency_id = ? AND status = ?", s.agencyID, model.MemberStatusActive).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count members: %w", apperrors.ErrDatabase, err)
	}
	return int(n), nil
}

func (s *seatLockSession) CountPendingInvitations(ctx context.Context, now time.Time) (int, error) {
	var n int64
	err := s.conn.WithContext(ctx).
		Model(&model.Invitation{}).
		Where("agency_id = ? AND accepted_at IS NULL AND expires_at > ?", s.agencyID, now).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count pending invitations: %w", apperrors.ErrDatabase, err)
	}
	return int(n), nil
}

func (s *seatLockSession) PendingInvitationEmails(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	var emails []string
	err := s.conn.WithContext(ctx).
		Model(&model.Invitation{}).
		Where("agency_id = ? AND accepted_at IS NULL AND expires_at > ?", s.agencyID, now).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pending invitation emails: %w", apperrors.ErrDatabase, err)
	}
	return toEmailSet(emails), nil
}

func (s *seatLockSession) MemberEmails(ctx context.Context) (map[string]struct{}, error) {
	var emails []string
	err := s.conn.WithContext(ctx).
		Model(&model.Membership{}).
		Where("agency_id = ? AND status = ?", s.agencyID, model.MemberStatusActive).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list member emails: %w", apperrors.ErrDatabase, err)
	}
	return toEmailSet(emails), nil
}

func (s *seatLockSession) CreateInvitations(ctx context.Context, invitations []model.Invitation) error {
	if len(invitations) == 0 {
		return nil
	}
	if err := s.conn.WithContext(ctx).Create(&invitations).Error; err != nil {
		return checkConstraintViolation(err)
	}
	return nil
}

func toEmailSet(emails []string) map[string]struct{} {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		set[e] = struct{}{}
	}
	return set
}

// --- Invitation Repository Methods (outside the lock) ---

// FindPendingInvitations lists the tenant's live invitations.
func (r *PostgresRepo) FindPendingInvitations(ctx context.Context, now time.Time) ([]model.Invitation, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var invitations []model.Invitation
	operation := func() error {
		return r.db.WithContext(ctx).
			Where("agency_id = ? AND accepted_at IS NULL AND expires_at > ?", agencyID, now).
			Order("created_at DESC").
			Find(&invitations).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindPendingInvitations", operation)
	observer.ObserveDbOperationDuration("list", "invitation", agencyID, time.Since(startTime), readErr)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to list pending invitations: %w", apperrors.ErrDatabase, readErr)
	}
	return invitations, nil
}

// AcceptInvitation settles one pending invitation and records the membership
// it produced, atomically. The accepted_at IS NULL guard makes acceptance
// exactly-once.
func (r *PostgresRepo) AcceptInvitation(ctx context.Context, invitationID, userID string) error {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	now := utils.Now()
	operation := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var invitation model.Invitation
			if findErr := tx.Where("id = ? AND agency_id = ?", invitationID, agencyID).First(&invitation).Error; findErr != nil {
				if errors.Is(findErr, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: invitation %s", apperrors.ErrNotFound, invitationID)
				}
				return findErr
			}
			if !invitation.Pending(now) {
				return fmt.Errorf("%w: invitation %s is no longer pending", apperrors.ErrConflict, invitationID)
			}

			result := tx.Model(&model.Invitation{}).
				Where("id = ? AND accepted_at IS NULL", invitationID).
				Update("accepted_at", now)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: invitation %s already accepted", apperrors.ErrConflict, invitationID)
			}

			membership := model.Membership{
				ID:       uuid.NewString(),
				AgencyID: agencyID,
				UserID:   userID,
				Email:    invitation.Email,
				Role:     invitation.Role,
				Status:   model.MemberStatusActive,
			}
			if createErr := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error; createErr != nil {
				return checkConstraintViolation(createErr)
			}
			return nil
		})
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "AcceptInvitation", operation)
	observer.ObserveDbOperationDuration("update", "invitation", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return commitErr
	}
	return nil
}

// PurgeExpiredInvitations deletes invitations that expired before the cutoff
// and were never accepted. Run by the maintenance sweeper; the grace window
// between expiry and deletion lives in the caller's cutoff.
func (r *PostgresRepo) PurgeExpiredInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var deleted int64
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("agency_id = ? AND accepted_at IS NULL AND expires_at < ?", agencyID, cutoff).
			Delete(&model.Invitation{})
		deleted = result.RowsAffected
		return result.Error
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "PurgeExpiredInvitations", operation)
	observer.ObserveDbOperationDuration("delete", "invitation", agencyID, time.Since(startTime), commitErr)
	if commitErr != nil {
		return 0, fmt.Errorf("%w: failed to purge expired invitations: %w", apperrors.ErrDatabase, commitErr)
	}
	return deleted, nil
}
