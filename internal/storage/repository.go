package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
)

// LeadRepo defines lead storage operations
type LeadRepo interface {
	Create(ctx context.Context, lead model.Lead) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	FindByID(ctx context.Context, id string) (*model.Lead, error)
	Count(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// ImportRepo defines import job and row storage operations
type ImportRepo interface {
	CreateJob(ctx context.Context, job model.ImportJob) error
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]model.ImportJob, error)
	MarkJobProcessing(ctx context.Context, id string) error
	UpdateJobAggregates(ctx context.Context, id string, counts model.RowCounts, status string, errorDetails datatypes.JSON) error
	MarkJobError(ctx context.Context, id string, detail model.RowError) error
	FindStalledJobs(ctx context.Context, cutoff time.Time) ([]model.ImportJob, error)

	UpsertRows(ctx context.Context, rows []model.ImportJobRow) error
	FindPendingRowsByHashes(ctx context.Context, jobID string, hashes []string) ([]model.ImportJobRow, error)
	MarkRowProcessed(ctx context.Context, jobID, rowHash, status, errorMessage string) error
	CountJobRows(ctx context.Context, jobID string) (model.RowCounts, error)
	ListFailedRows(ctx context.Context, jobID string) ([]model.ImportJobRow, error)

	Close(ctx context.Context) error
}

// InvitationRepo defines invitation storage operations
type InvitationRepo interface {
	WithSeatLock(ctx context.Context, agencyID string, attempts int, retryWait time.Duration, fn func(ctx context.Context, s SeatLockSession) error) error
	FindPending(ctx context.Context, now time.Time) ([]model.Invitation, error)
	Accept(ctx context.Context, invitationID, userID string) error
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Close(ctx context.Context) error
}

// AgencyRepo defines agency and membership storage operations
type AgencyRepo interface {
	Get(ctx context.Context) (*model.Agency, error)
	Save(ctx context.Context, agency model.Agency) error
	GetMembership(ctx context.Context, userID string) (*model.Membership, error)
	CountMembers(ctx context.Context) (int, error)
	CountPendingInvites(ctx context.Context, now time.Time) (int, error)
	Close(ctx context.Context) error
}

// AuditRepo defines audit log storage operations
type AuditRepo interface {
	SaveAll(ctx context.Context, entries []model.AuditLog) error
	Close(ctx context.Context) error
}
