package integration_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// InvitationFlowSuite exercises the seat-limited invitation service against
// a real PostgreSQL advisory lock.
type InvitationFlowSuite struct {
	BaseIntegrationSuite
}

func (s *InvitationFlowSuite) newInviteService(lockAttempts int) *usecase.InviteService {
	return usecase.NewInviteService(
		s.Invitations, s.Agencies, s.Audits, events.NoopPublisher{},
		7*24*time.Hour, lockAttempts, 50*time.Millisecond)
}

func (s *InvitationFlowSuite) TestBulkInviteSeatAccounting() {
	s.SeedAgency(5)
	s.SeedMember(InviterUserID, "owner@example.com", model.RoleOwner)
	s.SeedMember("user-2", "second@example.com", model.RoleAgent)
	ctx := s.TenantCtx()
	service := s.newInviteService(5)

	result, err := service.BulkInvite(ctx, model.InviteRequest{
		Emails: []string{"a@example.com", "b@example.com"},
		Role:   model.RoleAgent,
	})
	s.Require().NoError(err)
	s.Equal(2, result.Created)
	s.Equal(2, s.CountRows("invitations"))
	s.Equal(2, s.CountRows("audit_logs"))

	// 2 members + 2 pending leaves one seat; two more won't fit.
	_, err = service.BulkInvite(ctx, model.InviteRequest{
		Emails: []string{"c@example.com", "d@example.com"},
		Role:   model.RoleAgent,
	})
	s.Require().ErrorIs(err, apperrors.ErrSeatLimitExceeded)
	s.Equal(2, s.CountRows("invitations"))

	// A single invite still fits.
	result, err = service.BulkInvite(ctx, model.InviteRequest{
		Email: "c@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().NoError(err)
	s.Equal(1, result.Created)
	s.Equal(3, s.CountRows("invitations"))
}

func (s *InvitationFlowSuite) TestDisabledMembersDoNotConsumeSeats() {
	s.SeedAgency(3)
	s.SeedMember(InviterUserID, "owner@example.com", model.RoleOwner)
	s.SeedMember("user-2", "second@example.com", model.RoleAgent)
	s.SeedMemberWithStatus("user-gone", "gone@example.com", model.RoleAgent, model.MemberStatusDisabled)
	ctx := s.TenantCtx()
	service := s.newInviteService(5)

	// 2 active members leave one seat; the disabled row is ignored.
	result, err := service.BulkInvite(ctx, model.InviteRequest{
		Email: "a@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().NoError(err)
	s.Equal(1, result.Created)

	_, err = service.BulkInvite(ctx, model.InviteRequest{
		Email: "b@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().ErrorIs(err, apperrors.ErrSeatLimitExceeded)
	s.Equal(1, s.CountRows("invitations"))
}

func (s *InvitationFlowSuite) TestAuditLogRedactsEmails() {
	s.SeedAgency(5)
	s.SeedMember(InviterUserID, "owner@example.com", model.RoleOwner)
	ctx := s.TenantCtx()
	service := s.newInviteService(5)

	_, err := service.BulkInvite(ctx, model.InviteRequest{
		Email: "jane.doe@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().NoError(err)

	var diff string
	err = s.QueryRowScan(s.Ctx,
		fmt.Sprintf("SELECT diff::text FROM %q.audit_logs WHERE action = $1", s.SchemaName),
		[]interface{}{&diff}, model.AuditActionInvitationCreated)
	s.Require().NoError(err)
	s.Contains(diff, "j***@example.com")
	s.NotContains(diff, "jane.doe@example.com")
}

// TestConcurrentInvitesNeverExceedSeats fires more invitation requests than
// there are free seats, in parallel, and verifies the advisory lock keeps
// members + pending invitations at or under the seat count.
func (s *InvitationFlowSuite) TestConcurrentInvitesNeverExceedSeats() {
	const seats = 5
	s.SeedAgency(seats)
	s.SeedMember(InviterUserID, "owner@example.com", model.RoleOwner)
	ctx := s.TenantCtx()
	service := s.newInviteService(50)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := service.BulkInvite(ctx, model.InviteRequest{
				Email: fmt.Sprintf("agent-%d@example.com", n),
				Role:  model.RoleAgent,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			created += result.Created
		}(i)
	}
	wg.Wait()

	// One seat is taken by the owner, so exactly seats-1 invites fit.
	s.Equal(seats-1, created)
	s.Len(errs, callers-(seats-1))
	for _, err := range errs {
		s.ErrorIs(err, apperrors.ErrSeatLimitExceeded)
	}

	pending := s.CountRows("invitations")
	members := s.CountRows("memberships")
	s.LessOrEqual(members+pending, seats)
	s.Equal(seats-1, pending)
}

func (s *InvitationFlowSuite) TestAcceptInvitationCreatesMembershipOnce() {
	s.SeedAgency(5)
	s.SeedMember(InviterUserID, "owner@example.com", model.RoleOwner)
	ctx := s.TenantCtx()
	service := s.newInviteService(5)

	_, err := service.BulkInvite(ctx, model.InviteRequest{
		Email: "newhire@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().NoError(err)

	pending, err := s.Invitations.FindPending(ctx, utils.Now())
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	err = s.Invitations.Accept(ctx, pending[0].ID, "user-newhire")
	s.Require().NoError(err)

	membership, err := s.Agencies.GetMembership(ctx, "user-newhire")
	s.Require().NoError(err)
	s.Equal(model.RoleAgent, membership.Role)
	s.Equal("newhire@example.com", membership.Email)

	// A second accept is a conflict, not a second membership.
	err = s.Invitations.Accept(ctx, pending[0].ID, "user-newhire")
	s.Require().ErrorIs(err, apperrors.ErrConflict)
	s.Equal(2, s.CountRows("memberships"))
}

func (s *InvitationFlowSuite) TestPurgeExpiredInvitations() {
	s.SeedAgency(5)
	ctx := s.TenantCtx()

	insert := fmt.Sprintf(
		`INSERT INTO %q.invitations (id, agency_id, email, role, invited_by, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`, s.SchemaName)

	// One long-expired, one expired within the grace window, one live.
	err := s.ExecuteNonQuery(s.Ctx, insert, uuid.NewString(), s.AgencyID,
		"stale@example.com", model.RoleAgent, InviterUserID, utils.Now().Add(-72*time.Hour))
	s.Require().NoError(err)
	err = s.ExecuteNonQuery(s.Ctx, insert, uuid.NewString(), s.AgencyID,
		"recent@example.com", model.RoleAgent, InviterUserID, utils.Now().Add(-time.Hour))
	s.Require().NoError(err)
	err = s.ExecuteNonQuery(s.Ctx, insert, uuid.NewString(), s.AgencyID,
		"live@example.com", model.RoleAgent, InviterUserID, utils.Now().Add(24*time.Hour))
	s.Require().NoError(err)

	purged, err := s.Invitations.PurgeExpired(ctx, utils.Now().Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), purged)
	s.Equal(2, s.CountRows("invitations"))
}

func (s *InvitationFlowSuite) TestNonManagerCannotInvite() {
	s.SeedAgency(5)
	s.SeedMember("user-agent", "agent@example.com", model.RoleAgent)
	ctx := s.TenantCtx()

	// The acting user in TenantCtx has no membership at all.
	service := s.newInviteService(5)
	_, err := service.BulkInvite(ctx, model.InviteRequest{
		Email: "x@example.com",
		Role:  model.RoleAgent,
	})
	s.Require().ErrorIs(err, apperrors.ErrPermissionDenied)
	s.Equal(0, s.CountRows("invitations"))
}
