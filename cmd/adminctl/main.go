package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/config"
	"gitlab.com/polisuite/api/agency-crm-service/internal/events"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/internal/observer"
	"gitlab.com/polisuite/api/agency-crm-service/internal/session"
	"gitlab.com/polisuite/api/agency-crm-service/internal/storage"
	"gitlab.com/polisuite/api/agency-crm-service/internal/tenant"
	"gitlab.com/polisuite/api/agency-crm-service/internal/usecase"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// adminEnv bundles what every subcommand needs: config, a tenant-scoped
// context, and the repositories.
type adminEnv struct {
	cfg         *config.Config
	ctx         context.Context
	repo        *storage.PostgresRepo
	leads       storage.LeadRepo
	imports     storage.ImportRepo
	invitations storage.InvitationRepo
	audits      storage.AuditRepo
}

func newAdminEnv() (*adminEnv, error) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	observer.InitMetrics(false)

	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (POSTGRES_DSN)")
	}
	if cfg.Agency.ID == "" {
		return nil, fmt.Errorf("agency ID is required (AGENCY_ID)")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, false, cfg.Agency.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	ctx := tenant.WithAgencyID(context.Background(), cfg.Agency.ID)
	ctx = tenant.WithUserID(ctx, "adminctl")

	return &adminEnv{
		cfg:         cfg,
		ctx:         ctx,
		repo:        repo,
		leads:       storage.NewLeadRepoAdapter(repo),
		imports:     storage.NewImportRepoAdapter(repo),
		invitations: storage.NewInvitationRepoAdapter(repo),
		audits:      storage.NewAuditRepoAdapter(repo),
	}, nil
}

func (e *adminEnv) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.repo.Close(shutdownCtx); err != nil {
		logger.Log.Warn("Failed to close postgres connection", zap.Error(err))
	}
	logger.Sync()
}

func main() {
	root := &cobra.Command{
		Use:           "adminctl",
		Short:         "Operational tooling for the agency CRM service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(jobsCmd(), invitationsCmd(), importCmd(), sessionsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair import jobs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent import jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newAdminEnv()
			if err != nil {
				return err
			}
			defer env.close()

			jobs, err := env.imports.ListJobs(env.ctx, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no import jobs")
				return nil
			}
			fmt.Printf("%-36s  %-12s  %8s  %8s  %8s  %s\n", "ID", "STATUS", "TOTAL", "OK", "ERRORS", "UPDATED")
			for _, job := range jobs {
				fmt.Printf("%-36s  %-12s  %8d  %8d  %8d  %s\n",
					job.ID, job.Status, job.TotalRows, job.SuccessCount, job.ErrorCount,
					job.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")

	finalizeCmd := &cobra.Command{
		Use:   "finalize <job-id>",
		Short: "Force a stalled job into a terminal status from its row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newAdminEnv()
			if err != nil {
				return err
			}
			defer env.close()
			return finalizeJob(env, args[0])
		},
	}

	cmd.AddCommand(listCmd, finalizeCmd)
	return cmd
}

// finalizeJob recounts the job's rows and forces a terminal status: completed
// when every row settled, error otherwise.
func finalizeJob(env *adminEnv, jobID string) error {
	job, err := env.imports.GetJob(env.ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusError {
		fmt.Printf("job %s already terminal (%s)\n", job.ID, job.Status)
		return nil
	}

	counts, err := env.imports.CountJobRows(env.ctx, jobID)
	if err != nil {
		return err
	}

	if counts.Pending > 0 {
		detail := model.RowError{Message: fmt.Sprintf("finalized by operator with %d rows still pending", counts.Pending)}
		if err := env.imports.MarkJobError(env.ctx, jobID, detail); err != nil {
			return err
		}
		fmt.Printf("job %s marked error (%d pending rows abandoned)\n", jobID, counts.Pending)
		return nil
	}

	if err := env.imports.UpdateJobAggregates(env.ctx, jobID, counts, model.JobStatusCompleted, job.ErrorDetails); err != nil {
		return err
	}
	fmt.Printf("job %s marked completed (%d rows, %d errors)\n", jobID, counts.Total, counts.Failed)
	return nil
}

func invitationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invitations",
		Short: "Invitation maintenance",
	}

	var grace time.Duration
	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Purge invitations whose expiry passed longer than the grace window ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newAdminEnv()
			if err != nil {
				return err
			}
			defer env.close()

			cutoff := utils.Now().Add(-grace)
			purged, err := env.invitations.PurgeExpired(env.ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d expired invitations (expired before %s)\n", purged, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	expireCmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "Keep invitations expired more recently than this")

	cmd.AddCommand(expireCmd)
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Bearer session management",
	}

	var (
		userID string
		email  string
		role   string
		ttl    time.Duration
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a bearer session for the configured agency and print the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.LoadConfig("")
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := logger.Initialize(cfg.LogLevel); err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			if cfg.Agency.ID == "" {
				return fmt.Errorf("agency ID is required (AGENCY_ID)")
			}

			store, err := session.NewRedisStore(cfg.Redis.URL, cfg.Redis.SessionPrefix)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			defer store.Close()

			if ttl <= 0 {
				ttl = cfg.Redis.SessionTTL
			}
			token := uuid.NewString()
			err = store.Save(cmd.Context(), token, session.Data{
				UserID:    userID,
				AgencyID:  cfg.Agency.ID,
				Email:     email,
				Role:      role,
				CreatedAt: utils.Now(),
			}, ttl)
			if err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			fmt.Printf("token: %s (expires in %s)\n", token, ttl)
			return nil
		},
	}
	createCmd.Flags().StringVar(&userID, "user", "", "User ID the session belongs to")
	createCmd.Flags().StringVar(&email, "email", "", "User email")
	createCmd.Flags().StringVar(&role, "role", model.RoleAdmin, "Membership role carried by the session")
	createCmd.Flags().DurationVar(&ttl, "ttl", 0, "Session lifetime (defaults to the configured sessionTTL)")

	cmd.AddCommand(createCmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run imports from the command line",
	}

	var (
		filePath    string
		mappingArgs []string
	)
	fileCmd := &cobra.Command{
		Use:   "file",
		Short: "Import a CSV file through the chunked pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return fmt.Errorf("--file is required")
			}
			mapping, err := parseMappingArgs(mappingArgs)
			if err != nil {
				return err
			}

			env, err := newAdminEnv()
			if err != nil {
				return err
			}
			defer env.close()

			csvBytes, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", filePath, err)
			}

			service := usecase.NewImportService(env.leads, env.imports, env.audits, events.NoopPublisher{})
			orchestrator := usecase.NewOrchestrator(service, env.cfg.Import.ChunkSize, env.cfg.Import.ChunkInterval)

			job, err := orchestrator.Run(env.ctx, string(csvBytes), mapping, filePath,
				func(r model.ChunkResult) {
					fmt.Printf("  chunk: processed=%d success=%d errors=%d (running totals: %d processed, %d success, %d errors)\n",
						r.Processed, r.SuccessCount, r.ErrorCount, r.TotalProcessed, r.TotalSuccess, r.TotalErrors)
				})
			if err != nil {
				return err
			}

			fmt.Printf("job %s finished: status=%s total=%d success=%d errors=%d\n",
				job.ID, job.Status, job.TotalRows, job.SuccessCount, job.ErrorCount)
			if job.ErrorCount > 0 {
				report, reportErr := usecase.ErrorReportCSV(job)
				if reportErr == nil {
					fmt.Print(string(report))
				}
			}
			return nil
		},
	}
	fileCmd.Flags().StringVar(&filePath, "file", "", "CSV file to import")
	fileCmd.Flags().StringArrayVar(&mappingArgs, "mapping", nil, "Column mapping as header=field (may be repeated)")

	cmd.AddCommand(fileCmd)
	return cmd
}

// parseMappingArgs turns repeated header=field flags into a ColumnMapping.
// An empty field value skips the column.
func parseMappingArgs(args []string) (model.ColumnMapping, error) {
	if len(args) == 0 {
		return nil, nil
	}
	mapping := make(model.ColumnMapping, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --mapping %q, expected header=field", arg)
		}
		if !model.IsLeadField(parts[1]) {
			return nil, fmt.Errorf("unknown lead field %q in --mapping %q", parts[1], arg)
		}
		mapping[parts[0]] = parts[1]
	}
	return mapping, nil
}
