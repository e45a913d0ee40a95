package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
)

// LeadRepoAdapter adapts the PostgresRepo to the LeadRepo interface
type LeadRepoAdapter struct {
	postgres *PostgresRepo
}

// NewLeadRepoAdapter creates a new lead repository adapter
func NewLeadRepoAdapter(postgres *PostgresRepo) LeadRepo {
	return &LeadRepoAdapter{postgres: postgres}
}

func (a *LeadRepoAdapter) Create(ctx context.Context, lead model.Lead) error {
	return a.postgres.CreateLead(ctx, lead)
}

func (a *LeadRepoAdapter) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.postgres.LeadExistsByEmail(ctx, email)
}

func (a *LeadRepoAdapter) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return a.postgres.LeadExistsByPhone(ctx, phone)
}

func (a *LeadRepoAdapter) FindByID(ctx context.Context, id string) (*model.Lead, error) {
	return a.postgres.FindLeadByID(ctx, id)
}

func (a *LeadRepoAdapter) Count(ctx context.Context) (int64, error) {
	return a.postgres.CountLeads(ctx)
}

func (a *LeadRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ImportRepoAdapter adapts the PostgresRepo to the ImportRepo interface
type ImportRepoAdapter struct {
	postgres *PostgresRepo
}

// NewImportRepoAdapter creates a new import repository adapter
func NewImportRepoAdapter(postgres *PostgresRepo) ImportRepo {
	return &ImportRepoAdapter{postgres: postgres}
}

func (a *ImportRepoAdapter) CreateJob(ctx context.Context, job model.ImportJob) error {
	return a.postgres.CreateImportJob(ctx, job)
}

func (a *ImportRepoAdapter) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	return a.postgres.GetImportJob(ctx, id)
}

func (a *ImportRepoAdapter) ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error) {
	return a.postgres.ListImportJobs(ctx, limit)
}

func (a *ImportRepoAdapter) MarkJobProcessing(ctx context.Context, id string) error {
	return a.postgres.MarkJobProcessing(ctx, id)
}

func (a *ImportRepoAdapter) UpdateJobAggregates(ctx context.Context, id string, counts model.RowCounts, status string, errorDetails datatypes.JSON) error {
	return a.postgres.UpdateJobAggregates(ctx, id, counts, status, errorDetails)
}

func (a *ImportRepoAdapter) MarkJobError(ctx context.Context, id string, detail model.RowError) error {
	return a.postgres.MarkJobError(ctx, id, detail)
}

func (a *ImportRepoAdapter) FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.ImportJob, error) {
	return a.postgres.FindStalledJobs(ctx, cutoff)
}

func (a *ImportRepoAdapter) UpsertRows(ctx context.Context, rows []model.ImportJobRow) error {
	return a.postgres.UpsertImportRows(ctx, rows)
}

func (a *ImportRepoAdapter) FindPendingRowsByHashes(ctx context.Context, jobID string, hashes []string) ([]model.ImportJobRow, error) {
	return a.postgres.FindPendingRowsByHashes(ctx, jobID, hashes)
}

func (a *ImportRepoAdapter) MarkRowProcessed(ctx context.Context, jobID, rowHash, status, errorMessage string) error {
	return a.postgres.MarkRowProcessed(ctx, jobID, rowHash, status, errorMessage)
}

func (a *ImportRepoAdapter) CountJobRows(ctx context.Context, jobID string) (model.RowCounts, error) {
	return a.postgres.CountJobRows(ctx, jobID)
}

func (a *ImportRepoAdapter) ListFailedRows(ctx context.Context, jobID string) ([]model.ImportJobRow, error) {
	return a.postgres.ListFailedRows(ctx, jobID)
}

func (a *ImportRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// InvitationRepoAdapter adapts the PostgresRepo to the InvitationRepo interface
type InvitationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewInvitationRepoAdapter creates a new invitation repository adapter
func NewInvitationRepoAdapter(postgres *PostgresRepo) InvitationRepo {
	return &InvitationRepoAdapter{postgres: postgres}
}

func (a *InvitationRepoAdapter) WithSeatLock(ctx context.Context, agencyID string, attempts int, retryWait time.Duration, fn func(ctx context.Context, s SeatLockSession) error) error {
	return a.postgres.WithSeatLock(ctx, agencyID, attempts, retryWait, fn)
}

func (a *InvitationRepoAdapter) FindPending(ctx context.Context, now time.Time) ([]model.Invitation, error) {
	return a.postgres.FindPendingInvitations(ctx, now)
}

func (a *InvitationRepoAdapter) Accept(ctx context.Context, invitationID, userID string) error {
	return a.postgres.AcceptInvitation(ctx, invitationID, userID)
}

func (a *InvitationRepoAdapter) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.postgres.PurgeExpiredInvitations(ctx, cutoff)
}

func (a *InvitationRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// AgencyRepoAdapter adapts the PostgresRepo to the AgencyRepo interface
type AgencyRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAgencyRepoAdapter creates a new agency repository adapter
func NewAgencyRepoAdapter(postgres *PostgresRepo) AgencyRepo {
	return &AgencyRepoAdapter{postgres: postgres}
}

func (a *AgencyRepoAdapter) Get(ctx context.Context) (*model.Agency, error) {
	return a.postgres.GetAgency(ctx)
}

func (a *AgencyRepoAdapter) Save(ctx context.Context, agency model.Agency) error {
	return a.postgres.SaveAgency(ctx, agency)
}

func (a *AgencyRepoAdapter) GetMembership(ctx context.Context, userID string) (*model.Membership, error) {
	return a.postgres.GetMembership(ctx, userID)
}

func (a *AgencyRepoAdapter) CountMembers(ctx context.Context) (int, error) {
	return a.postgres.CountMembers(ctx)
}

func (a *AgencyRepoAdapter) CountPendingInvites(ctx context.Context, now time.Time) (int, error) {
	return a.postgres.CountPendingInvites(ctx, now)
}

func (a *AgencyRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// AuditRepoAdapter adapts the PostgresRepo to the AuditRepo interface
type AuditRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAuditRepoAdapter creates a new audit log repository adapter
func NewAuditRepoAdapter(postgres *PostgresRepo) AuditRepo {
	return &AuditRepoAdapter{postgres: postgres}
}

func (a *AuditRepoAdapter) SaveAll(ctx context.Context, entries []model.AuditLog) error {
	return a.postgres.SaveAuditLogs(ctx, entries)
}

func (a *AuditRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}
