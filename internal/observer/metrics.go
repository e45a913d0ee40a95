package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for import pipeline metrics
	rowOutcomeLabels = []string{"agency_id", "outcome"}
	chunkLabels      = []string{"agency_id", "status"}
	jobLabels        = []string{"agency_id", "status"}

	// --- Import pipeline metrics ---

	ImportRowsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_import_rows_processed_total",
			Help: "Total number of import rows processed, labeled by outcome (created, deduped, failed, empty).",
		},
		rowOutcomeLabels,
	)
	ImportChunksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_import_chunks_processed_total",
			Help: "Total number of chunk submissions processed, labeled by status.",
		},
		chunkLabels,
	)
	ImportChunkDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_crm_import_chunk_duration_seconds",
			Help:    "Histogram of chunk processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"agency_id"},
	)
	ImportJobsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_import_jobs_finalized_total",
			Help: "Total number of import jobs that reached a terminal status.",
		},
		jobLabels,
	)

	// --- Invitation metrics ---

	InvitationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_invitations_created_total",
			Help: "Total number of invitations created.",
		},
		[]string{"agency_id"},
	)
	InvitationsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_invitations_skipped_total",
			Help: "Total number of requested invitations skipped, labeled by reason (already_invited, existing_member).",
		},
		[]string{"agency_id", "reason"},
	)
	SeatLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_seat_limit_rejections_total",
			Help: "Total number of invitation batches rejected for exceeding the seat limit.",
		},
		[]string{"agency_id"},
	)
	SeatLockFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_seat_lock_failures_total",
			Help: "Total number of advisory lock acquisitions that gave up after retries.",
		},
		[]string{"agency_id"},
	)
	SeatLockHoldDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_crm_seat_lock_hold_duration_seconds",
			Help:    "Histogram of how long the tenant seat lock was held.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"agency_id"},
	)

	// --- Storage metrics ---

	DbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_crm_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation", "entity", "agency_id", "status"},
	)

	// --- Sweeper metrics ---

	SweeperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_sweeper_runs_total",
			Help: "Total number of maintenance sweeps, labeled by task and status.",
		},
		[]string{"task", "status"},
	)
	SweeperItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_sweeper_items_total",
			Help: "Total number of items acted on by the sweeper (stalled jobs, purged invitations).",
		},
		[]string{"task"},
	)

	// --- HTTP metrics ---

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_crm_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method, path and status code.",
		},
		[]string{"method", "path", "code"},
	)
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_crm_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path"},
	)
)

// InitMetrics toggles metric collection. Metrics are registered via promauto
// at package load; this only controls whether the helpers record anything.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// sanitizeAgency ensures the agency label is valid or returns a default value.
func sanitizeAgency(agencyID string) string {
	if agencyID == "" {
		return "unknown"
	}
	return agencyID
}

// IncRowsProcessed increments the row outcome counter.
func IncRowsProcessed(agencyID, outcome string) {
	if !metricsEnabled {
		return
	}
	ImportRowsProcessedTotal.WithLabelValues(sanitizeAgency(agencyID), outcome).Inc()
}

// IncChunksProcessed increments the chunk counter.
func IncChunksProcessed(agencyID, status string) {
	if !metricsEnabled {
		return
	}
	ImportChunksProcessedTotal.WithLabelValues(sanitizeAgency(agencyID), status).Inc()
}

// ObserveChunkDuration records one chunk's processing duration.
func ObserveChunkDuration(agencyID string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	ImportChunkDurationSeconds.WithLabelValues(sanitizeAgency(agencyID)).Observe(duration.Seconds())
}

// IncJobsFinalized increments the terminal-status job counter.
func IncJobsFinalized(agencyID, status string) {
	if !metricsEnabled {
		return
	}
	ImportJobsFinalizedTotal.WithLabelValues(sanitizeAgency(agencyID), status).Inc()
}

// AddInvitationsCreated adds to the created-invitations counter.
func AddInvitationsCreated(agencyID string, n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	InvitationsCreatedTotal.WithLabelValues(sanitizeAgency(agencyID)).Add(float64(n))
}

// AddInvitationsSkipped adds to the skipped-invitations counter.
func AddInvitationsSkipped(agencyID, reason string, n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	InvitationsSkippedTotal.WithLabelValues(sanitizeAgency(agencyID), reason).Add(float64(n))
}

// IncSeatLimitRejections increments the seat-limit rejection counter.
func IncSeatLimitRejections(agencyID string) {
	if !metricsEnabled {
		return
	}
	SeatLimitRejectionsTotal.WithLabelValues(sanitizeAgency(agencyID)).Inc()
}

// IncSeatLockFailures increments the lock acquisition failure counter.
func IncSeatLockFailures(agencyID string) {
	if !metricsEnabled {
		return
	}
	SeatLockFailuresTotal.WithLabelValues(sanitizeAgency(agencyID)).Inc()
}

// ObserveSeatLockHold records how long the seat lock was held.
func ObserveSeatLockHold(agencyID string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	SeatLockHoldDurationSeconds.WithLabelValues(sanitizeAgency(agencyID)).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records a database operation's duration and status.
func ObserveDbOperationDuration(operation, entity, agencyID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DbOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeAgency(agencyID), status).Observe(duration.Seconds())
}

// IncSweeperRun increments the sweeper run counter.
func IncSweeperRun(task, status string) {
	if !metricsEnabled {
		return
	}
	SweeperRunsTotal.WithLabelValues(task, status).Inc()
}

// AddSweeperItems adds to the sweeper items counter.
func AddSweeperItems(task string, n int64) {
	if !metricsEnabled || n <= 0 {
		return
	}
	SweeperItemsTotal.WithLabelValues(task).Add(float64(n))
}

// RecordHTTPRequest increments the request counter and observes duration.
func RecordHTTPRequest(method, path, code string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(duration.Seconds())
}
