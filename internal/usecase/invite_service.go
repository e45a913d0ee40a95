package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	apperrors "gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/internal/validator"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// InviteService enforces the seat limit for team invitations. All seat
// counting and invitation inserts for one agency are serialized behind the
// agency's advisory lock, so concurrent invite requests can never over-commit
// the purchased seats.
type InviteService struct {
	invitations   storage.InvitationRepo
	agencies      storage.AgencyRepo
	audits        storage.AuditRepo
	publisher     events.Publisher
	ttl           time.Duration
	lockAttempts  int
	lockRetryWait time.Duration
}

// NewInviteService creates an invitation service. ttl is the invitation
// validity window.
func NewInviteService(invitations storage.InvitationRepo, agencies storage.AgencyRepo, audits storage.AuditRepo, publisher events.Publisher, ttl time.Duration, lockAttempts int, lockRetryWait time.Duration) *InviteService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InviteService{
		invitations:   invitations,
		agencies:      agencies,
		audits:        audits,
		publisher:     publisher,
		ttl:           ttl,
		lockAttempts:  lockAttempts,
		lockRetryWait: lockRetryWait,
	}
}

// BulkInvite runs the seat-check-and-reserve protocol: permission gate, email
// validation, advisory lock, seat check, overlap filtering, a second seat
// check immediately before the insert, batch insert, audit entries. Any
// validation failure aborts the whole batch; there is no partial success.
func (s *InviteService) BulkInvite(ctx context.Context, req model.InviteRequest) (*model.InviteResult, error) {
	log := logger.FromContext(ctx)

	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	userID, err := tenant.UserIDFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get user ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	membership, err := s.agencies.GetMembership(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: caller has no membership in agency %s", apperrors.ErrPermissionDenied, agencyID)
	}
	if membership.Status != model.MemberStatusActive {
		return nil, fmt.Errorf("%w: membership for user %s is %s", apperrors.ErrPermissionDenied, userID, membership.Status)
	}
	if !model.CanManageInvitations(membership.Role) {
		return nil, fmt.Errorf("%w: role %s may not manage invitations", apperrors.ErrPermissionDenied, membership.Role)
	}

	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}
	emails, err := mergeEmails(req)
	if err != nil {
		return nil, err
	}

	now := utils.Now()
	var result *model.InviteResult
	lockErr := s.invitations.WithSeatLock(ctx, agencyID, s.lockAttempts, s.lockRetryWait, func(ctx context.Context, sess storage.SeatLockSession) error {
		agency, sessErr := sess.Agency(ctx)
		if sessErr != nil {
			return sessErr
		}
		members, sessErr := sess.CountActiveMembers(ctx)
		if sessErr != nil {
			return sessErr
		}
		pendingInvites, sessErr := sess.CountPendingInvitations(ctx, now)
		if sessErr != nil {
			return sessErr
		}

		usage := computeSeatUsage(agency.SeatCount, members, pendingInvites, len(emails))
		if !usage.CanProceed {
			observer.IncSeatLimitRejections(agencyID)
			return fmt.Errorf("%w: %s", apperrors.ErrSeatLimitExceeded, usage.Details())
		}

		pendingEmails, sessErr := sess.PendingInvitationEmails(ctx, now)
		if sessErr != nil {
			return sessErr
		}
		memberEmails, sessErr := sess.MemberEmails(ctx)
		if sessErr != nil {
			return sessErr
		}

		var toCreate, alreadyInvited, existingUsers []string
		for _, email := range emails {
			switch {
			case contains(memberEmails, email):
				existingUsers = append(existingUsers, email)
			case contains(pendingEmails, email):
				alreadyInvited = append(alreadyInvited, email)
			default:
				toCreate = append(toCreate, email)
			}
		}

		if len(toCreate) == 0 {
			result = &model.InviteResult{
				Skipped:        len(emails),
				AlreadyInvited: alreadyInvited,
				ExistingUsers:  existingUsers,
				SeatUsage:      usage.Details(),
			}
			return nil
		}

		// Second check right before the insert, against the batch that will
		// actually be written.
		usage = computeSeatUsage(agency.SeatCount, members, pendingInvites, len(toCreate))
		if !usage.CanProceed {
			observer.IncSeatLimitRejections(agencyID)
			return fmt.Errorf("%w: %s", apperrors.ErrSeatLimitExceeded, usage.Details())
		}

		invitations := make([]model.Invitation, 0, len(toCreate))
		for _, email := range toCreate {
			invitations = append(invitations, model.Invitation{
				ID:        uuid.NewString(),
				AgencyID:  agencyID,
				Email:     email,
				Role:      req.Role,
				InvitedBy: userID,
				ExpiresAt: now.Add(s.ttl),
			})
		}
		if sessErr := sess.CreateInvitations(ctx, invitations); sessErr != nil {
			return sessErr
		}

		finalUsage := computeSeatUsage(agency.SeatCount, members, pendingInvites+len(invitations), 0)
		result = &model.InviteResult{
			Created:            len(invitations),
			Skipped:            len(alreadyInvited) + len(existingUsers),
			CreatedInvitations: toCreate,
			AlreadyInvited:     alreadyInvited,
			ExistingUsers:      existingUsers,
			SeatUsage:          finalUsage.Details(),
		}
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}

	if result.Created > 0 {
		s.writeInviteAudits(ctx, agencyID, userID, req.Role, result.CreatedInvitations, now)
		observer.AddInvitationsCreated(agencyID, result.Created)
		s.publisher.InvitationsCreated(ctx, agencyID, result.Created)
	}
	if n := len(result.AlreadyInvited); n > 0 {
		observer.AddInvitationsSkipped(agencyID, "already_invited", n)
	}
	if n := len(result.ExistingUsers); n > 0 {
		observer.AddInvitationsSkipped(agencyID, "existing_member", n)
	}

	log.Info("Bulk invite finished",
		zap.String("agency_id", agencyID),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// SeatUsageFor computes the seat usage snapshot for a prospective batch of
// the given size, under the agency lock so the numbers are consistent.
func (s *InviteService) SeatUsageFor(ctx context.Context, requested int) (model.SeatUsage, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return model.SeatUsage{}, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	now := utils.Now()
	var usage model.SeatUsage
	lockErr := s.invitations.WithSeatLock(ctx, agencyID, s.lockAttempts, s.lockRetryWait, func(ctx context.Context, sess storage.SeatLockSession) error {
		agency, sessErr := sess.Agency(ctx)
		if sessErr != nil {
			return sessErr
		}
		members, sessErr := sess.CountActiveMembers(ctx)
		if sessErr != nil {
			return sessErr
		}
		pendingInvites, sessErr := sess.CountPendingInvitations(ctx, now)
		if sessErr != nil {
			return sessErr
		}
		usage = computeSeatUsage(agency.SeatCount, members, pendingInvites, requested)
		return nil
	})
	return usage, lockErr
}

// writeInviteAudits records one audit entry per created invitation with the
// email redacted in the stored diff.
func (s *InviteService) writeInviteAudits(ctx context.Context, agencyID, actorID, role string, emails []string, now time.Time) {
	entries := make([]model.AuditLog, 0, len(emails))
	for _, email := range emails {
		entries = append(entries, model.AuditLog{
			AgencyID: agencyID,
			ActorID:  actorID,
			Action:   model.AuditActionInvitationCreated,
			Entity:   "invitation",
			Diff: datatypes.JSON(utils.MustMarshalJSON(map[string]interface{}{
				"email":      RedactEmail(email),
				"role":       role,
				"expires_at": now.Add(s.ttl),
			})),
		})
	}
	if err := s.audits.SaveAll(ctx, entries); err != nil {
		logger.FromContext(ctx).Warn("Failed to write invitation audit entries",
			zap.String("agency_id", agencyID), zap.Error(err))
	}
}

// computeSeatUsage is the one place seat arithmetic lives. Available never
// goes negative.
func computeSeatUsage(seatCount, members, pendingInvites, requested int) model.SeatUsage {
	available := seatCount - members - pendingInvites
	if available < 0 {
		available = 0
	}
	return model.SeatUsage{
		ActiveMembers:  members,
		PendingInvites: pendingInvites,
		SeatCount:      seatCount,
		Available:      available,
		CanProceed:     members+pendingInvites+requested <= seatCount,
	}
}

// mergeEmails merges the single and batch email fields, normalizes, dedupes
// preserving order, and validates each entry. One invalid entry aborts the
// whole batch.
func mergeEmails(req model.InviteRequest) ([]string, error) {
	raw := make([]string, 0, len(req.Emails)+1)
	if req.Email != "" {
		raw = append(raw, req.Email)
	}
	raw = append(raw, req.Emails...)

	seen := make(map[string]struct{}, len(raw))
	emails := make([]string, 0, len(raw))
	for _, e := range raw {
		email := strings.ToLower(strings.TrimSpace(e))
		if email == "" {
			continue
		}
		if err := validator.Get().Var(email, "required,email"); err != nil {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidEmail, e)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: no email addresses supplied", apperrors.ErrValidation)
	}
	return emails, nil
}

// RedactEmail masks the local part of an address for audit storage.
// "jane.doe@example.com" becomes "j***@example.com".
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
