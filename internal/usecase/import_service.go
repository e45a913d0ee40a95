package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

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

// ImportService runs the server side of the chunked CSV lead import:
// idempotent row upsert, per-row reconciliation against existing leads, and
// authoritative aggregate recounting.
type ImportService struct {
	leads     storage.LeadRepo
	imports   storage.ImportRepo
	audits    storage.AuditRepo
	publisher events.Publisher
}

// NewImportService creates an import service.
func NewImportService(leads storage.LeadRepo, imports storage.ImportRepo, audits storage.AuditRepo, publisher events.Publisher) *ImportService {
	return &ImportService{
		leads:     leads,
		imports:   imports,
		audits:    audits,
		publisher: publisher,
	}
}

// CreateJob registers a new import job in the pending status.
func (s *ImportService) CreateJob(ctx context.Context, filename string) (*model.ImportJob, error) {
	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	userID, _ := tenant.UserIDFromContext(ctx)

	job := model.ImportJob{
		ID:        uuid.NewString(),
		AgencyID:  agencyID,
		Filename:  filename,
		Status:    model.JobStatusPending,
		CreatedBy: userID,
	}
	if err := s.imports.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns the persisted job snapshot.
func (s *ImportService) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	return s.imports.GetJob(ctx, id)
}

// ProcessChunk ingests one chunk: parse the CSV payload, apply the column
// mapping, fingerprint every row, upsert with ignore-duplicates semantics,
// reconcile each still-pending row against existing leads, and recount the
// job's aggregates from scratch. Re-delivering a chunk is a no-op for rows
// that already settled.
func (s *ImportService) ProcessChunk(ctx context.Context, req model.ChunkRequest) (*model.ChunkResult, error) {
	log := logger.FromContext(ctx)
	start := utils.Now()

	agencyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	if err := validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}

	job, err := s.imports.GetJob(ctx, req.ImportJobID)
	if err != nil {
		return nil, err
	}

	headers, records, err := parseChunkCSV(req.CsvData)
	if err != nil {
		return nil, err
	}

	mapping := model.ColumnMapping(req.ColumnMappings)
	if len(mapping) == 0 {
		mapping = model.SuggestMapping(headers)
	}
	if bad := mapping.Validate(); len(bad) > 0 {
		return nil, fmt.Errorf("%w: unknown lead fields in column mapping: %s", apperrors.ErrValidation, strings.Join(bad, ", "))
	}

	// Fingerprint and upsert. Duplicate content within the chunk collapses to
	// one row record, same as duplicate content across deliveries.
	rows := make([]model.ImportJobRow, 0, len(records))
	hashes := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		mapped := mapping.Apply(record)
		hash := RowHash(mapped)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		rows = append(rows, model.ImportJobRow{
			ImportJobID: job.ID,
			RowHash:     hash,
			RowData:     datatypes.JSON(CanonicalRowJSON(mapped)),
			Status:      model.RowStatusPending,
		})
		hashes = append(hashes, hash)
	}

	if err := s.imports.UpsertRows(ctx, rows); err != nil {
		return nil, err
	}
	if err := s.imports.MarkJobProcessing(ctx, job.ID); err != nil {
		return nil, err
	}

	// Only rows still pending belong to this delivery; rows settled by an
	// earlier delivery of the same content are skipped.
	pending, err := s.imports.FindPendingRowsByHashes(ctx, job.ID, hashes)
	if err != nil {
		return nil, err
	}

	var chunkSuccess, chunkError int
	for _, row := range pending {
		if rowErr := s.processRow(ctx, agencyID, row); rowErr != nil {
			chunkError++
		} else {
			chunkSuccess++
		}
	}

	counts, err := s.imports.CountJobRows(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	isComplete := req.TotalChunks > 0 && req.ChunkIndex >= req.TotalChunks-1 && counts.Pending == 0
	status := model.JobStatusProcessing
	if isComplete {
		status = model.JobStatusCompleted
	}

	errorDetails, err := s.collectErrorDetails(ctx, job.ID, counts)
	if err != nil {
		return nil, err
	}
	if err := s.imports.UpdateJobAggregates(ctx, job.ID, counts, status, errorDetails); err != nil {
		return nil, err
	}

	observer.IncChunksProcessed(agencyID, status)
	observer.ObserveChunkDuration(agencyID, utils.Now().Sub(start))

	if isComplete {
		s.finalizeJob(ctx, agencyID, job.ID, status, counts)
	}

	log.Info("Processed import chunk",
		zap.String("job_id", job.ID),
		zap.Int("chunk_index", req.ChunkIndex),
		zap.Int("rows", len(rows)),
		zap.Int("settled", len(pending)),
		zap.Int("success", chunkSuccess),
		zap.Int("errors", chunkError),
		zap.Bool("complete", isComplete),
	)

	return &model.ChunkResult{
		Success:        true,
		Processed:      len(pending),
		SuccessCount:   chunkSuccess,
		ErrorCount:     chunkError,
		IsComplete:     isComplete,
		TotalProcessed: counts.Processed(),
		TotalSuccess:   counts.Succeeded,
		TotalErrors:    counts.Failed,
	}, nil
}

// processRow settles one pending row: empty-row rejection, dedup against
// existing leads by email then phone, otherwise lead insert. Failures are
// recorded on the row and never abort the chunk.
func (s *ImportService) processRow(ctx context.Context, agencyID string, row model.ImportJobRow) error {
	log := logger.FromContext(ctx)

	var record map[string]string
	if err := utils.UnmarshalJSON(row.RowData, &record); err != nil {
		s.failRow(ctx, row, fmt.Sprintf("malformed row data: %v", err))
		return fmt.Errorf("malformed row data: %w", err)
	}

	fields := extractLeadFields(record)
	if fields.Email == "" && fields.Phone == "" && fields.FullName == "" {
		s.failRow(ctx, row, "Empty row")
		observer.IncRowsProcessed(agencyID, "empty")
		return fmt.Errorf("empty row")
	}

	if fields.Email != "" {
		exists, err := s.leads.ExistsByEmail(ctx, fields.Email)
		if err != nil {
			s.failRow(ctx, row, err.Error())
			return err
		}
		if exists {
			s.succeedRow(ctx, row)
			observer.IncRowsProcessed(agencyID, "deduped")
			return nil
		}
	}
	if fields.Phone != "" {
		exists, err := s.leads.ExistsByPhone(ctx, fields.Phone)
		if err != nil {
			s.failRow(ctx, row, err.Error())
			return err
		}
		if exists {
			s.succeedRow(ctx, row)
			observer.IncRowsProcessed(agencyID, "deduped")
			return nil
		}
	}

	lead := model.Lead{
		ID:        uuid.NewString(),
		AgencyID:  agencyID,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		FullName:  fields.FullName,
		Email:     fields.Email,
		Phone:     fields.Phone,
		Source:    fields.Source,
		Status:    model.LeadStatusNew,
		Notes:     fields.Notes,
	}
	if err := s.leads.Create(ctx, lead); err != nil {
		log.Warn("Lead insert failed for import row",
			zap.String("job_id", row.ImportJobID),
			zap.String("row_hash", row.RowHash),
			zap.Error(err),
		)
		s.failRow(ctx, row, err.Error())
		observer.IncRowsProcessed(agencyID, "failed")
		return err
	}

	s.succeedRow(ctx, row)
	observer.IncRowsProcessed(agencyID, "created")
	return nil
}

func (s *ImportService) succeedRow(ctx context.Context, row model.ImportJobRow) {
	if err := s.imports.MarkRowProcessed(ctx, row.ImportJobID, row.RowHash, model.RowStatusSucceeded, ""); err != nil {
		logger.FromContext(ctx).Error("Failed to mark row succeeded",
			zap.String("row_hash", row.RowHash), zap.Error(err))
	}
}

func (s *ImportService) failRow(ctx context.Context, row model.ImportJobRow, message string) {
	if err := s.imports.MarkRowProcessed(ctx, row.ImportJobID, row.RowHash, model.RowStatusFailed, message); err != nil {
		logger.FromContext(ctx).Error("Failed to mark row failed",
			zap.String("row_hash", row.RowHash), zap.Error(err))
	}
}

// collectErrorDetails rebuilds the job's error_details from the failed rows.
// Rebuilt, not appended, for the same reason counts are recounted.
func (s *ImportService) collectErrorDetails(ctx context.Context, jobID string, counts model.RowCounts) (datatypes.JSON, error) {
	if counts.Failed == 0 {
		return nil, nil
	}
	failed, err := s.imports.ListFailedRows(ctx, jobID)
	if err != nil {
		return nil, err
	}
	details := make([]model.RowError, 0, len(failed))
	for _, row := range failed {
		details = append(details, model.RowError{
			RowHash: row.RowHash,
			Message: row.ErrorMessage,
			Data:    string(row.RowData),
		})
	}
	return datatypes.JSON(utils.MustMarshalJSON(details)), nil
}

// finalizeJob emits the terminal event, audit entry, and metric. Best-effort:
// the job state is already durable.
func (s *ImportService) finalizeJob(ctx context.Context, agencyID, jobID, status string, counts model.RowCounts) {
	log := logger.FromContext(ctx)
	observer.IncJobsFinalized(agencyID, status)

	job, err := s.imports.GetJob(ctx, jobID)
	if err != nil {
		log.Warn("Failed to fetch finalized job for event", zap.String("job_id", jobID), zap.Error(err))
	} else {
		s.publisher.JobFinalized(ctx, job)
	}

	userID, _ := tenant.UserIDFromContext(ctx)
	entry := model.AuditLog{
		AgencyID: agencyID,
		ActorID:  userID,
		Action:   model.AuditActionJobFinalized,
		Entity:   "import_job",
		EntityID: jobID,
		Diff: datatypes.JSON(utils.MustMarshalJSON(map[string]interface{}{
			"status":        status,
			"total_rows":    counts.Total,
			"success_count": counts.Succeeded,
			"error_count":   counts.Failed,
		})),
	}
	if err := s.audits.SaveAll(ctx, []model.AuditLog{entry}); err != nil {
		log.Warn("Failed to write job finalization audit entry", zap.String("job_id", jobID), zap.Error(err))
	}
}

// ErrorReportCSV renders the job's error_details as a downloadable CSV with
// the header Row,Error,Data. encoding/csv doubles internal quotes.
func ErrorReportCSV(job *model.ImportJob) ([]byte, error) {
	var details []model.RowError
	if len(job.ErrorDetails) > 0 {
		if err := utils.UnmarshalJSON(job.ErrorDetails, &details); err != nil {
			return nil, fmt.Errorf("%w: malformed error details: %w", apperrors.ErrDatabase, err)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Row", "Error", "Data"}); err != nil {
		return nil, err
	}
	for i, d := range details {
		if err := w.Write([]string{strconv.Itoa(i + 1), d.Message, d.Data}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// leadFields is the extracted, normalized field set for one row.
type leadFields struct {
	FirstName string
	LastName  string
	FullName  string
	Email     string
	Phone     string
	Source    string
	Notes     string
}

// extractLeadFields pulls the recognized lead fields out of a mapped record.
// FullName falls back to first+last when absent.
func extractLeadFields(record map[string]string) leadFields {
	f := leadFields{
		FirstName: strings.TrimSpace(record[model.FieldFirstName]),
		LastName:  strings.TrimSpace(record[model.FieldLastName]),
		FullName:  strings.TrimSpace(record[model.FieldFullName]),
		Email:     strings.TrimSpace(record[model.FieldEmail]),
		Phone:     strings.TrimSpace(record[model.FieldPhone]),
		Source:    strings.TrimSpace(record[model.FieldSource]),
		Notes:     strings.TrimSpace(record[model.FieldNotes]),
	}
	if f.FullName == "" {
		f.FullName = strings.TrimSpace(f.FirstName + " " + f.LastName)
	}
	if f.Source == "" {
		f.Source = model.DefaultLeadSource
	}
	return f
}

// parseChunkCSV splits one chunk payload into its header and data records.
// Short rows are padded, long rows truncated to the header width.
func parseChunkCSV(csvData string) ([]string, []map[string]string, error) {
	reader := csv.NewReader(strings.NewReader(csvData))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	lines, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed CSV payload: %w", apperrors.ErrBadRequest, err)
	}
	if len(lines) < 2 {
		return nil, nil, fmt.Errorf("%w: chunk needs a header line and at least one data line", apperrors.ErrEmptyInput)
	}

	headers := make([]string, len(lines[0]))
	for i, h := range lines[0] {
		headers[i] = strings.TrimSpace(h)
	}

	records := make([]map[string]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(line) {
				record[header] = line[i]
			} else {
				record[header] = ""
			}
		}
		records = append(records, record)
	}
	return headers, records, nil
}
