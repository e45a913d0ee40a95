package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	pgtc "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
)

const (
	DefaultAgencyID = "integrationagency"
	InviterUserID   = "user-inviter"
)

// BaseIntegrationSuite starts one PostgreSQL container for the whole suite
// and wires the tenant-scoped repositories against it. Tests needing only
// the database embed this suite.
type BaseIntegrationSuite struct {
	suite.Suite
	Postgres    testcontainers.Container
	PostgresDSN string

	Repo        *storage.PostgresRepo
	Leads       storage.LeadRepo
	Imports     storage.ImportRepo
	Invitations storage.InvitationRepo
	Agencies    storage.AgencyRepo
	Audits      storage.AuditRepo

	AgencyID   string
	SchemaName string
	Ctx        context.Context
	cancel     context.CancelFunc
}

// SetupSuite runs once before the tests in the suite.
func (s *BaseIntegrationSuite) SetupSuite() {
	s.Ctx, s.cancel = context.WithCancel(context.Background())
	log.Println("Setting up BaseIntegrationSuite...")
	logger.Log = zaptest.NewLogger(s.T()).Named("BaseIntegrationSuite")

	startTime := time.Now()
	var err error

	s.AgencyID = DefaultAgencyID
	s.SchemaName = storage.SchemaName(s.AgencyID)

	s.Postgres, s.PostgresDSN, err = startPostgres(s.Ctx)
	if err != nil {
		s.T().Fatalf("Failed to start postgres: %v", err)
	}
	log.Println("PostgreSQL container started.")

	s.Repo, err = storage.NewPostgresRepo(s.PostgresDSN, true, s.AgencyID)
	if err != nil {
		s.T().Fatalf("Failed to initialize tenant repository: %v", err)
	}
	s.Leads = storage.NewLeadRepoAdapter(s.Repo)
	s.Imports = storage.NewImportRepoAdapter(s.Repo)
	s.Invitations = storage.NewInvitationRepoAdapter(s.Repo)
	s.Agencies = storage.NewAgencyRepoAdapter(s.Repo)
	s.Audits = storage.NewAuditRepoAdapter(s.Repo)

	log.Printf("BaseIntegrationSuite setup complete in %v", time.Since(startTime))
}

// TearDownSuite runs once after all tests in the suite have finished.
func (s *BaseIntegrationSuite) TearDownSuite() {
	log.Println("Tearing down BaseIntegrationSuite...")

	if s.Repo != nil {
		if err := s.Repo.Close(s.Ctx); err != nil {
			s.T().Logf("Error closing repository: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Terminate(s.Ctx); err != nil {
			s.T().Logf("Error terminating PostgreSQL container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// SetupTest truncates the tenant's tables so every test starts clean.
func (s *BaseIntegrationSuite) SetupTest() {
	for _, table := range []string{"audit_logs", "import_job_rows", "import_jobs", "invitations", "memberships", "leads", "agencies"} {
		err := s.ExecuteNonQuery(s.Ctx, fmt.Sprintf("TRUNCATE TABLE %q.%s CASCADE", s.SchemaName, table))
		s.Require().NoError(err, "Failed to truncate %s", table)
	}
}

// TenantCtx returns a context carrying the suite's tenant and the inviter
// as the acting user, the way the HTTP auth middleware would populate it.
func (s *BaseIntegrationSuite) TenantCtx() context.Context {
	ctx := tenant.WithAgencyID(s.Ctx, s.AgencyID)
	return tenant.WithUserID(ctx, InviterUserID)
}

// SeedAgency inserts the tenant agency row with the given seat count.
func (s *BaseIntegrationSuite) SeedAgency(seatCount int) {
	err := s.Agencies.Save(s.TenantCtx(), model.Agency{
		ID:        s.AgencyID,
		Name:      "Integration Test Agency",
		SeatCount: seatCount,
	})
	s.Require().NoError(err, "Failed to seed agency")
}

// SeedMember inserts an active membership row directly.
func (s *BaseIntegrationSuite) SeedMember(userID, email, role string) {
	s.SeedMemberWithStatus(userID, email, role, model.MemberStatusActive)
}

// SeedMemberWithStatus inserts a membership row with an explicit status.
func (s *BaseIntegrationSuite) SeedMemberWithStatus(userID, email, role, status string) {
	query := fmt.Sprintf(
		`INSERT INTO %q.memberships (id, agency_id, user_id, email, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`, s.SchemaName)
	err := s.ExecuteNonQuery(s.Ctx, query, uuid.NewString(), s.AgencyID, userID, email, role, status)
	s.Require().NoError(err, "Failed to seed membership")
}

// CountRows returns the row count of a table in the tenant schema.
func (s *BaseIntegrationSuite) CountRows(table string) int {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %q.%s", s.SchemaName, table)
	err := s.QueryRowScan(s.Ctx, query, []interface{}{&count})
	s.Require().NoError(err, "Failed to count rows in %s", table)
	return count
}

// --- Database Helper Methods ---

// connectDB opens and pings a raw SQL connection for verification queries.
func (s *BaseIntegrationSuite) connectDB() (*sql.DB, error) {
	db, err := sql.Open("pgx", s.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connectDB: failed to open connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(s.Ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connectDB: failed to ping database: %w", err)
	}
	return db, nil
}

// QueryRowScan executes a query expected to return one row and scans it.
func (s *BaseIntegrationSuite) QueryRowScan(ctx context.Context, query string, dest []interface{}, args ...interface{}) error {
	db, err := s.connectDB()
	if err != nil {
		return fmt.Errorf("QueryRowScan: %w", err)
	}
	defer db.Close()

	ctxQuery, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.QueryRowContext(ctxQuery, query, args...).Scan(dest...); err != nil {
		return fmt.Errorf("QueryRowScan: failed query/scan: %w. Query: %s, Args: %v", err, query, args)
	}
	return nil
}

// ExecuteNonQuery executes a SQL statement that doesn't return rows.
func (s *BaseIntegrationSuite) ExecuteNonQuery(ctx context.Context, query string, args ...interface{}) error {
	db, err := s.connectDB()
	if err != nil {
		return fmt.Errorf("ExecuteNonQuery: %w", err)
	}
	defer db.Close()

	ctxExec, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctxExec, query, args...); err != nil {
		return fmt.Errorf("ExecuteNonQuery: failed query: %w. Query: %s, Args: %v", err, query, args)
	}
	return nil
}

// startPostgres starts a PostgreSQL container and returns it with its DSN.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := pgtc.Run(ctx,
		"postgres:17-bookworm",
		pgtc.WithDatabase("agency_crm"),
		pgtc.WithUsername("postgres"),
		pgtc.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		host, hostErr := pgContainer.Host(ctx)
		if hostErr != nil {
			return pgContainer, "", fmt.Errorf("failed to get PostgreSQL host: %w", hostErr)
		}
		mappedPort, portErr := pgContainer.MappedPort(ctx, "5432")
		if portErr != nil {
			return pgContainer, "", fmt.Errorf("failed to get PostgreSQL port: %w", portErr)
		}
		dsn = fmt.Sprintf("postgres://postgres:postgres@%s:%s/agency_crm?sslmode=disable", host, mappedPort.Port())
	}

	return pgContainer, dsn, nil
}

// --- Test Runner Functions ---

func TestRunImportFlowSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(ImportFlowSuite))
}

func TestRunInvitationFlowSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(InvitationFlowSuite))
}

func TestRunTenantIsolationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(TenantIsolationSuite))
}
