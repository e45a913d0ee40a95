package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "gitlab.com/polisuite/api/agency-crm-service/internal/apperrors"
	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
)

// ChunkProcessor is the import surface the orchestrator drives. Implemented
// by ImportService; narrowed here so tests can fake it.
type ChunkProcessor interface {
	CreateJob(ctx context.Context, filename string) (*model.ImportJob, error)
	ProcessChunk(ctx context.Context, req model.ChunkRequest) (*model.ChunkResult, error)
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
}

// ProgressFunc receives each chunk's progress snapshot.
type ProgressFunc = func(model.ChunkResult)

// Orchestrator splits a whole CSV into bounded chunks and submits them
// sequentially, with a throttle pause between submissions. The server is
// authoritative about completion: the loop stops early when a chunk response
// reports the job complete.
type Orchestrator struct {
	processor ChunkProcessor
	chunkSize int
	interval  time.Duration
}

// NewOrchestrator creates an orchestrator. chunkSize is data rows per chunk;
// interval is the pause between submissions.
func NewOrchestrator(processor ChunkProcessor, chunkSize int, interval time.Duration) *Orchestrator {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Orchestrator{
		processor: processor,
		chunkSize: chunkSize,
		interval:  interval,
	}
}

// Run imports a whole CSV text. It creates the job, submits every chunk in
// order, and returns the final persisted job snapshot. A chunk failure aborts
// the run; prior chunks' work is already durable.
func (o *Orchestrator) Run(ctx context.Context, csvText string, mapping model.ColumnMapping, filename string, onProgress ProgressFunc) (*model.ImportJob, error) {
	log := logger.FromContext(ctx)

	header, dataLines, err := splitCSVLines(csvText)
	if err != nil {
		return nil, err
	}

	totalChunks := (len(dataLines) + o.chunkSize - 1) / o.chunkSize

	job, err := o.processor.CreateJob(ctx, filename)
	if err != nil {
		return nil, err
	}
	log.Info("Starting import run",
		zap.String("job_id", job.ID),
		zap.String("filename", filename),
		zap.Int("data_rows", len(dataLines)),
		zap.Int("chunks", totalChunks),
	)

	complete := false
	for chunkIndex := 0; chunkIndex < totalChunks; chunkIndex++ {
		startRow := chunkIndex * o.chunkSize
		endRow := startRow + o.chunkSize
		if endRow > len(dataLines) {
			endRow = len(dataLines)
		}

		req := model.ChunkRequest{
			ImportJobID:    job.ID,
			CsvData:        header + "\n" + strings.Join(dataLines[startRow:endRow], "\n"),
			ColumnMappings: mapping,
			ChunkIndex:     chunkIndex,
			TotalChunks:    totalChunks,
		}

		result, chunkErr := o.processor.ProcessChunk(ctx, req)
		if chunkErr != nil {
			// Surface the job's last known state alongside the failure.
			if snapshot, fetchErr := o.processor.GetJob(ctx, job.ID); fetchErr == nil {
				return snapshot, fmt.Errorf("chunk %d/%d failed (job status %s, %d errors so far): %w",
					chunkIndex+1, totalChunks, snapshot.Status, snapshot.ErrorCount, chunkErr)
			}
			return nil, fmt.Errorf("chunk %d/%d failed: %w", chunkIndex+1, totalChunks, chunkErr)
		}

		if onProgress != nil {
			onProgress(*result)
		}
		if result.IsComplete {
			complete = true
			break
		}

		if o.interval > 0 && chunkIndex < totalChunks-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: import run cancelled: %w", apperrors.ErrTimeout, ctx.Err())
			case <-time.After(o.interval):
			}
		}
	}

	final, err := o.processor.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !complete && final.Status != model.JobStatusCompleted {
		return final, fmt.Errorf("%w: job %s finished in status %s", apperrors.ErrIncompleteImport, final.ID, final.Status)
	}

	log.Info("Import run finished",
		zap.String("job_id", final.ID),
		zap.String("status", final.Status),
		zap.Int("success_count", final.SuccessCount),
		zap.Int("error_count", final.ErrorCount),
	)
	return final, nil
}

// splitCSVLines separates the header line from the data lines, dropping
// blank lines. At least one header and one data line are required.
func splitCSVLines(csvText string) (string, []string, error) {
	normalized := strings.ReplaceAll(csvText, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) < 2 {
		return "", nil, fmt.Errorf("%w: CSV needs a header line and at least one data line", apperrors.ErrEmptyInput)
	}
	return kept[0], kept[1:], nil
}
