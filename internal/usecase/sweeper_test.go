package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/polisuite/api/agency-crm-service/internal/config"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	storagemock "gitlab.com/polisuite/api/agency-crm-service/internal/storage/mock"
)

// setupSweeperTest creates mocks and a sweeper instance for testing.
// Note: We don't initialize the actual ants pool for unit testing the tasks.
func setupSweeperTest(t *testing.T) (*Sweeper, *storagemock.ImportRepoMock, *storagemock.InvitationRepoMock, *observer.ObservedLogs) {
	imports := new(storagemock.ImportRepoMock)
	invitations := new(storagemock.InvitationRepoMock)

	observedZapCore, observedLogs := observer.New(zapcore.DebugLevel)
	testLogger := zap.New(observedZapCore).Named("test_sweeper")

	s := &Sweeper{
		imports:     imports,
		invitations: invitations,
		cfg: config.SweeperConfig{
			OrphanAge:   30 * time.Minute,
			ExpiryGrace: 24 * time.Hour,
		},
		agencyID:   testAgency,
		baseLogger: testLogger,
		stopCh:     make(chan struct{}),
	}
	return s, imports, invitations, observedLogs
}

func TestSweepStalledJobs(t *testing.T) {
	s, imports, _, logs := setupSweeperTest(t)
	ctx := context.Background()

	stalled := []model.ImportJob{
		{ID: "job-1", AgencyID: testAgency, Status: model.JobStatusProcessing},
		{ID: "job-2", AgencyID: testAgency, Status: model.JobStatusProcessing},
	}
	imports.On("FindStalledJobs", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Cutoff sits roughly one orphan age in the past.
		return time.Since(cutoff) > 29*time.Minute && time.Since(cutoff) < 31*time.Minute
	})).Return(stalled, nil).Once()
	imports.On("MarkJobError", mock.Anything, "job-1", mock.MatchedBy(func(d model.RowError) bool {
		return d.Message == stalledJobErrorDetail
	})).Return(nil).Once()
	imports.On("MarkJobError", mock.Anything, "job-2", mock.Anything).Return(nil).Once()

	err := s.sweepStalledJobs(ctx)
	require.NoError(t, err)

	imports.AssertExpectations(t)
	assert.Equal(t, 2, logs.FilterMessage("Marked stalled import job as errored").Len())
}

func TestSweepStalledJobsNoneFound(t *testing.T) {
	s, imports, _, _ := setupSweeperTest(t)

	imports.On("FindStalledJobs", mock.Anything, mock.Anything).Return([]model.ImportJob{}, nil).Once()

	require.NoError(t, s.sweepStalledJobs(context.Background()))
	imports.AssertNotCalled(t, "MarkJobError", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepStalledJobsPartialFailure(t *testing.T) {
	s, imports, _, _ := setupSweeperTest(t)

	stalled := []model.ImportJob{
		{ID: "job-1", Status: model.JobStatusProcessing},
		{ID: "job-2", Status: model.JobStatusProcessing},
	}
	imports.On("FindStalledJobs", mock.Anything, mock.Anything).Return(stalled, nil).Once()
	imports.On("MarkJobError", mock.Anything, "job-1", mock.Anything).Return(errors.New("db down")).Once()
	imports.On("MarkJobError", mock.Anything, "job-2", mock.Anything).Return(nil).Once()

	err := s.sweepStalledJobs(context.Background())
	require.Error(t, err, "partial failure surfaces")
	assert.Contains(t, err.Error(), "1 of 2")
	imports.AssertExpectations(t)
}

func TestPurgeExpiredInvitations(t *testing.T) {
	s, _, invitations, logs := setupSweeperTest(t)

	invitations.On("PurgeExpired", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Grace window keeps recently expired invitations around.
		return time.Since(cutoff) > 23*time.Hour
	})).Return(int64(3), nil).Once()

	require.NoError(t, s.purgeExpiredInvitations(context.Background()))
	invitations.AssertExpectations(t)
	assert.Equal(t, 1, logs.FilterMessage("Purged expired invitations").Len())
}

func TestPurgeExpiredInvitationsError(t *testing.T) {
	s, _, invitations, _ := setupSweeperTest(t)

	invitations.On("PurgeExpired", mock.Anything, mock.Anything).
		Return(int64(0), errors.New("db down")).Once()

	err := s.purgeExpiredInvitations(context.Background())
	assert.ErrorContains(t, err, "failed to purge expired invitations")
}

func TestRunTaskRoutesByName(t *testing.T) {
	s, imports, invitations, logs := setupSweeperTest(t)

	imports.On("FindStalledJobs", mock.Anything, mock.Anything).Return([]model.ImportJob{}, nil).Once()
	invitations.On("PurgeExpired", mock.Anything, mock.Anything).Return(int64(0), nil).Once()

	s.runTask(sweepTask{Ctx: context.Background(), Name: sweepTaskStalledJobs})
	s.runTask(sweepTask{Ctx: context.Background(), Name: sweepTaskInvitePurge})
	s.runTask(sweepTask{Ctx: context.Background(), Name: "unknown"})

	imports.AssertExpectations(t)
	invitations.AssertExpectations(t)
	assert.Equal(t, 1, logs.FilterMessage("Unknown sweep task").Len())
}

func TestNewSweeperAndStop(t *testing.T) {
	imports := new(storagemock.ImportRepoMock)
	invitations := new(storagemock.InvitationRepoMock)

	s, err := NewSweeper(config.SweeperConfig{
		PoolSize:    2,
		Interval:    time.Hour,
		OrphanAge:   time.Hour,
		ExpiryGrace: time.Hour,
		ExpiryTime:  time.Minute,
	}, testAgency, imports, invitations, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, s.pool)

	s.Stop()
}
