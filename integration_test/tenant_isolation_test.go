package integration_test

import (
	"context"

	"github.com/google/uuid"

	"gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
)

const otherAgencyID = "otheragency"

// TenantIsolationSuite verifies that two agency schemas on the same database
// never see each other's data.
type TenantIsolationSuite struct {
	BaseIntegrationSuite

	OtherRepo    *storage.PostgresRepo
	OtherLeads   storage.LeadRepo
	OtherImports storage.ImportRepo
}

func (s *TenantIsolationSuite) SetupSuite() {
	s.BaseIntegrationSuite.SetupSuite()

	var err error
	s.OtherRepo, err = storage.NewPostgresRepo(s.PostgresDSN, true, otherAgencyID)
	if err != nil {
		s.T().Fatalf("Failed to initialize second tenant repository: %v", err)
	}
	s.OtherLeads = storage.NewLeadRepoAdapter(s.OtherRepo)
	s.OtherImports = storage.NewImportRepoAdapter(s.OtherRepo)
}

func (s *TenantIsolationSuite) TearDownSuite() {
	if s.OtherRepo != nil {
		if err := s.OtherRepo.Close(s.Ctx); err != nil {
			s.T().Logf("Error closing second tenant repository: %v", err)
		}
	}
	s.BaseIntegrationSuite.TearDownSuite()
}

func (s *TenantIsolationSuite) otherTenantCtx() context.Context {
	ctx := tenant.WithAgencyID(s.Ctx, otherAgencyID)
	return tenant.WithUserID(ctx, "user-other")
}

func (s *TenantIsolationSuite) TestLeadsAreSchemaScoped() {
	err := s.Leads.Create(s.TenantCtx(), model.Lead{
		ID:       uuid.NewString(),
		AgencyID: s.AgencyID,
		Email:    "only-here@example.com",
		Source:   model.DefaultLeadSource,
		Status:   model.LeadStatusNew,
	})
	s.Require().NoError(err)

	mine, err := s.Leads.Count(s.TenantCtx())
	s.Require().NoError(err)
	s.Equal(int64(1), mine)

	theirs, err := s.OtherLeads.Count(s.otherTenantCtx())
	s.Require().NoError(err)
	s.Equal(int64(0), theirs)

	// Email dedup lookups cannot cross tenants either.
	exists, err := s.OtherLeads.ExistsByEmail(s.otherTenantCtx(), "only-here@example.com")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *TenantIsolationSuite) TestImportJobsAreSchemaScoped() {
	service := usecase.NewImportService(s.Leads, s.Imports, s.Audits, events.NoopPublisher{})
	job, err := service.CreateJob(s.TenantCtx(), "isolated.csv")
	s.Require().NoError(err)

	_, err = s.OtherImports.GetJob(s.otherTenantCtx(), job.ID)
	s.Require().ErrorIs(err, apperrors.ErrNotFound)

	jobs, err := s.OtherImports.ListJobs(s.otherTenantCtx(), 10)
	s.Require().NoError(err)
	s.Empty(jobs)
}
