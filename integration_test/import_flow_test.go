package integration_test

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitlab.com/polisuite/api/agency-crm-service/internal/config"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
)

// ImportFlowSuite exercises the chunked CSV import pipeline end to end
// against a real PostgreSQL schema.
type ImportFlowSuite struct {
	BaseIntegrationSuite
}

func (s *ImportFlowSuite) newImportService() *usecase.ImportService {
	return usecase.NewImportService(s.Leads, s.Imports, s.Audits, events.NoopPublisher{})
}

var leadMapping = model.ColumnMapping{
	"First Name": model.FieldFirstName,
	"Last Name":  model.FieldLastName,
	"Email":      model.FieldEmail,
	"Phone":      model.FieldPhone,
}

func (s *ImportFlowSuite) TestImportEndToEnd() {
	ctx := s.TenantCtx()
	service := s.newImportService()
	orchestrator := usecase.NewOrchestrator(service, 2, 10*time.Millisecond)

	csvText := strings.Join([]string{
		"First Name,Last Name,Email,Phone",
		"Jane,Smith,jane@example.com,555-0001",
		"Bob,Jones,bob@example.com,555-0002",
		"Jane,Smith,jane@example.com,555-0001", // duplicate line, collapses by hash
		",,,",                                  // empty row, fails in isolation
		"Ann,Lee,ann@example.com,555-0003",
	}, "\n")

	var chunks []model.ChunkResult
	job, err := orchestrator.Run(ctx, csvText, leadMapping, "leads.csv", func(r model.ChunkResult) {
		chunks = append(chunks, r)
	})
	s.Require().NoError(err)
	s.Require().NotNil(job)

	s.Equal(model.JobStatusCompleted, job.Status)
	s.Equal(4, job.TotalRows, "duplicate line collapses into one row")
	s.Equal(3, job.SuccessCount)
	s.Equal(1, job.ErrorCount)
	s.NotEmpty(chunks)

	s.Equal(3, s.CountRows("leads"))
	s.Equal(4, s.CountRows("import_job_rows"))

	// Finalizing writes an audit entry.
	var action string
	err = s.QueryRowScan(s.Ctx,
		fmt.Sprintf("SELECT action FROM %q.audit_logs WHERE entity_id = $1", s.SchemaName),
		[]interface{}{&action}, job.ID)
	s.Require().NoError(err)
	s.Equal(model.AuditActionJobFinalized, action)
}

func (s *ImportFlowSuite) TestChunkRedeliveryIsIdempotent() {
	ctx := s.TenantCtx()
	service := s.newImportService()

	job, err := service.CreateJob(ctx, "redelivery.csv")
	s.Require().NoError(err)

	req := model.ChunkRequest{
		ImportJobID: job.ID,
		CsvData: strings.Join([]string{
			"First Name,Last Name,Email,Phone",
			"Jane,Smith,jane@example.com,555-0001",
			"Bob,Jones,bob@example.com,555-0002",
		}, "\n"),
		ColumnMappings: leadMapping,
		ChunkIndex:     0,
		TotalChunks:    1,
	}

	first, err := service.ProcessChunk(ctx, req)
	s.Require().NoError(err)
	s.Equal(2, first.Processed)
	s.Equal(2, first.SuccessCount)
	s.True(first.IsComplete)

	// Re-delivering the same chunk settles nothing new.
	second, err := service.ProcessChunk(ctx, req)
	s.Require().NoError(err)
	s.Equal(0, second.Processed)
	s.Equal(2, second.TotalSuccess)
	s.True(second.IsComplete)

	s.Equal(2, s.CountRows("leads"))
	s.Equal(2, s.CountRows("import_job_rows"))
}

func (s *ImportFlowSuite) TestDedupeAgainstExistingLeads() {
	ctx := s.TenantCtx()
	service := s.newImportService()

	err := s.Leads.Create(ctx, model.Lead{
		ID:       uuid.NewString(),
		AgencyID: s.AgencyID,
		Email:    "jane@example.com",
		Source:   "manual",
		Status:   model.LeadStatusNew,
	})
	s.Require().NoError(err)

	job, err := service.CreateJob(ctx, "dedupe.csv")
	s.Require().NoError(err)

	result, err := service.ProcessChunk(ctx, model.ChunkRequest{
		ImportJobID: job.ID,
		CsvData: strings.Join([]string{
			"First Name,Last Name,Email,Phone",
			"Jane,Smith,jane@example.com,555-0001",
			"Ann,Lee,ann@example.com,555-0003",
		}, "\n"),
		ColumnMappings: leadMapping,
		ChunkIndex:     0,
		TotalChunks:    1,
	})
	s.Require().NoError(err)
	s.Equal(2, result.SuccessCount, "matching an existing lead still counts the row as settled")

	// Only the new lead was inserted.
	s.Equal(2, s.CountRows("leads"))
	var count int
	err = s.QueryRowScan(s.Ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %q.leads WHERE email = $1", s.SchemaName),
		[]interface{}{&count}, "jane@example.com")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ImportFlowSuite) TestErrorReportListsFailedRows() {
	ctx := s.TenantCtx()
	service := s.newImportService()

	job, err := service.CreateJob(ctx, "errors.csv")
	s.Require().NoError(err)

	_, err = service.ProcessChunk(ctx, model.ChunkRequest{
		ImportJobID: job.ID,
		CsvData: strings.Join([]string{
			"First Name,Last Name,Email,Phone",
			"Jane,Smith,jane@example.com,555-0001",
			",,,",
		}, "\n"),
		ColumnMappings: leadMapping,
		ChunkIndex:     0,
		TotalChunks:    1,
	})
	s.Require().NoError(err)

	finished, err := service.GetJob(ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(1, finished.ErrorCount)

	report, err := usecase.ErrorReportCSV(finished)
	s.Require().NoError(err)
	s.Contains(string(report), "Empty row")
}

func (s *ImportFlowSuite) TestSweeperMarksStalledJobs() {
	ctx := s.TenantCtx()
	service := s.newImportService()

	job, err := service.CreateJob(ctx, "stalled.csv")
	s.Require().NoError(err)

	// Backdate the job beyond the orphan window.
	err = s.ExecuteNonQuery(s.Ctx,
		fmt.Sprintf("UPDATE %q.import_jobs SET status = $1, updated_at = now() - interval '2 hours' WHERE id = $2", s.SchemaName),
		model.JobStatusProcessing, job.ID)
	s.Require().NoError(err)

	sweeper, err := usecase.NewSweeper(config.SweeperConfig{
		PoolSize:    2,
		Interval:    time.Minute,
		OrphanAge:   30 * time.Minute,
		ExpiryGrace: 24 * time.Hour,
		ExpiryTime:  time.Minute,
	}, s.AgencyID, s.Imports, s.Invitations, logger.Log)
	s.Require().NoError(err)
	defer sweeper.Stop()

	sweeper.RunOnce(s.Ctx)

	s.Require().Eventually(func() bool {
		stale, getErr := service.GetJob(ctx, job.ID)
		return getErr == nil && stale.Status == model.JobStatusError
	}, 10*time.Second, 100*time.Millisecond, "stalled job should be marked error")
}
