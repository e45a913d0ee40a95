package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Import job statuses. Transitions only move forward:
// pending -> processing -> completed|error.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusError      = "error"
)

// Import row statuses. A row is written once as pending and settles exactly
// once into succeeded or failed.
const (
	RowStatusPending   = "pending"
	RowStatusSucceeded = "succeeded"
	RowStatusFailed    = "failed"
)

// ImportJob represents one CSV upload attempt. Aggregate counts are always
// recomputed from the job's rows, never incremented in place, so retried or
// overlapping chunk submissions cannot desynchronize them.
type ImportJob struct {
	ID            string         `json:"id" gorm:"primaryKey;type:text"`
	AgencyID      string         `json:"agency_id" gorm:"column:agency_id;index" validate:"required"`
	Filename      string         `json:"filename" gorm:"type:text"`
	Status        string         `json:"status" gorm:"type:text;default:pending;index"`
	TotalRows     int            `json:"total_rows" gorm:"column:total_rows"`
	ProcessedRows int            `json:"processed_rows" gorm:"column:processed_rows"`
	SuccessCount  int            `json:"success_count" gorm:"column:success_count"`
	ErrorCount    int            `json:"error_count" gorm:"column:error_count"`
	ErrorDetails  datatypes.JSON `json:"error_details,omitempty" gorm:"type:jsonb;column:error_details"`
	CreatedBy     string         `json:"created_by,omitempty" gorm:"type:text"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (ImportJob) TableName(namer schema.Namer) string {
	return namer.TableName("import_jobs")
}

// RowError is one per-row failure entry recorded in ImportJob.ErrorDetails.
type RowError struct {
	RowHash string `json:"row_hash"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ImportJobRow is one CSV row's processing record. The (import_job_id, row_hash)
// pair is unique: re-submitting identical content for the same job is a no-op.
type ImportJobRow struct {
	ImportJobID  string         `json:"import_job_id" gorm:"column:import_job_id;primaryKey;type:text" validate:"required"`
	RowHash      string         `json:"row_hash" gorm:"column:row_hash;primaryKey;type:text" validate:"required"`
	RowData      datatypes.JSON `json:"row_data" gorm:"type:jsonb;column:row_data"`
	Status       string         `json:"status" gorm:"type:text;default:pending;index"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty" gorm:"column:processed_at"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (ImportJobRow) TableName(namer schema.Namer) string {
	return namer.TableName("import_job_rows")
}

// RowCounts holds the authoritative per-status counts for one import job.
type RowCounts struct {
	Total     int
	Succeeded int
	Failed    int
	Pending   int
}

// Processed returns the number of rows that reached a terminal status.
func (c RowCounts) Processed() int {
	return c.Succeeded + c.Failed
}

// ChunkRequest is one chunk submission. CsvData carries the header line plus
// the chunk's data lines.
type ChunkRequest struct {
	ImportJobID    string            `json:"importJobId" validate:"required"`
	CsvData        string            `json:"csvData" validate:"required"`
	ColumnMappings map[string]string `json:"columnMappings"`
	ChunkIndex     int               `json:"chunkIndex,omitempty"`
	TotalChunks    int               `json:"totalChunks,omitempty"`
}

// ChunkResult is the progress response for one chunk submission. The totals
// reflect the whole job, the per-chunk numbers just the submitted rows.
type ChunkResult struct {
	Success        bool `json:"success"`
	Processed      int  `json:"processed"`
	SuccessCount   int  `json:"successCount"`
	ErrorCount     int  `json:"errorCount"`
	IsComplete     bool `json:"isComplete"`
	TotalProcessed int  `json:"totalProcessed"`
	TotalSuccess   int  `json:"totalSuccess"`
	TotalErrors    int  `json:"totalErrors"`
}
