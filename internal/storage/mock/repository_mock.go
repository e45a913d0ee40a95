package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
)

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) Create(ctx context.Context, lead model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *LeadRepoMock) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *LeadRepoMock) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *LeadRepoMock) FindByID(ctx context.Context, id string) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *LeadRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ImportRepo Mock ---

// ImportRepoMock mocks the ImportRepo interface
type ImportRepoMock struct {
	mock.Mock
}

func (m *ImportRepoMock) CreateJob(ctx context.Context, job model.ImportJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *ImportRepoMock) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportJob), args.Error(1)
}

func (m *ImportRepoMock) ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImportJob), args.Error(1)
}

func (m *ImportRepoMock) MarkJobProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ImportRepoMock) UpdateJobAggregates(ctx context.Context, id string, counts model.RowCounts, status string, errorDetails datatypes.JSON) error {
	args := m.Called(ctx, id, counts, status, errorDetails)
	return args.Error(0)
}

func (m *ImportRepoMock) MarkJobError(ctx context.Context, id string, detail model.RowError) error {
	args := m.Called(ctx, id, detail)
	return args.Error(0)
}

func (m *ImportRepoMock) FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.ImportJob, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImportJob), args.Error(1)
}

func (m *ImportRepoMock) UpsertRows(ctx context.Context, rows []model.ImportJobRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *ImportRepoMock) FindPendingRowsByHashes(ctx context.Context, jobID string, hashes []string) ([]model.ImportJobRow, error) {
	args := m.Called(ctx, jobID, hashes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImportJobRow), args.Error(1)
}

func (m *ImportRepoMock) MarkRowProcessed(ctx context.Context, jobID, rowHash, status, errorMessage string) error {
	args := m.Called(ctx, jobID, rowHash, status, errorMessage)
	return args.Error(0)
}

func (m *ImportRepoMock) CountJobRows(ctx context.Context, jobID string) (model.RowCounts, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(model.RowCounts), args.Error(1)
}

func (m *ImportRepoMock) ListFailedRows(ctx context.Context, jobID string) ([]model.ImportJobRow, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImportJobRow), args.Error(1)
}

func (m *ImportRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- InvitationRepo Mock ---

// InvitationRepoMock mocks the InvitationRepo interface. WithSeatLock invokes
// fn with the configured SeatLockSessionMock unless an error expectation says
// the lock was unavailable.
type InvitationRepoMock struct {
	mock.Mock
	Session *SeatLockSessionMock
}

func (m *InvitationRepoMock) WithSeatLock(ctx context.Context, agencyID string, attempts int, retryWait time.Duration, fn func(ctx context.Context, s storage.SeatLockSession) error) error {
	args := m.Called(ctx, agencyID, attempts, retryWait)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx, m.Session)
}

func (m *InvitationRepoMock) FindPending(ctx context.Context, now time.Time) ([]model.Invitation, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Invitation), args.Error(1)
}

func (m *InvitationRepoMock) Accept(ctx context.Context, invitationID, userID string) error {
	args := m.Called(ctx, invitationID, userID)
	return args.Error(0)
}

func (m *InvitationRepoMock) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *InvitationRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- SeatLockSession Mock ---

// SeatLockSessionMock mocks the SeatLockSession interface
type SeatLockSessionMock struct {
	mock.Mock
}

func (m *SeatLockSessionMock) Agency(ctx context.Context) (*model.Agency, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agency), args.Error(1)
}

func (m *SeatLockSessionMock) CountActiveMembers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *SeatLockSessionMock) CountPendingInvitations(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *SeatLockSessionMock) PendingInvitationEmails(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *SeatLockSessionMock) MemberEmails(ctx context.Context) (map[string]struct{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *SeatLockSessionMock) CreateInvitations(ctx context.Context, invitations []model.Invitation) error {
	args := m.Called(ctx, invitations)
	return args.Error(0)
}

// --- AgencyRepo Mock ---

// AgencyRepoMock mocks the AgencyRepo interface
type AgencyRepoMock struct {
	mock.Mock
}

func (m *AgencyRepoMock) Get(ctx context.Context) (*model.Agency, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agency), args.Error(1)
}

func (m *AgencyRepoMock) Save(ctx context.Context, agency model.Agency) error {
	args := m.Called(ctx, agency)
	return args.Error(0)
}

func (m *AgencyRepoMock) GetMembership(ctx context.Context, userID string) (*model.Membership, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Membership), args.Error(1)
}

func (m *AgencyRepoMock) CountMembers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *AgencyRepoMock) CountPendingInvites(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *AgencyRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- AuditRepo Mock ---

// AuditRepoMock mocks the AuditRepo interface
type AuditRepoMock struct {
	mock.Mock
}

func (m *AuditRepoMock) SaveAll(ctx context.Context, entries []model.AuditLog) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *AuditRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
