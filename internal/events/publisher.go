package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/polisuite/api/agency-crm-service/internal/model"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/logger"
	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// Publisher emits CRM domain events. Publishing is best-effort: failures are
// logged and never propagate to the originating operation.
type Publisher interface {
	JobFinalized(ctx context.Context, job *model.ImportJob)
	InvitationsCreated(ctx context.Context, agencyID string, created int)
	Close()
}

// NoopPublisher discards all events. Used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) JobFinalized(context.Context, *model.ImportJob)  {}
func (NoopPublisher) InvitationsCreated(context.Context, string, int) {}
func (NoopPublisher) Close()                                          {}

// JetStreamPublisher publishes CRM events to a JetStream stream.
type JetStreamPublisher struct {
	client ClientInterface
	stream string
}

// NewJetStreamPublisher connects to NATS and ensures the event stream exists.
func NewJetStreamPublisher(ctx context.Context, url, stream string, maxAgeDays int) (*JetStreamPublisher, error) {
	client, err := NewClient(url)
	if err != nil {
		return nil, err
	}

	streamConfig := &nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{"v1.crm.>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	if err := client.SetupStream(ctx, streamConfig); err != nil {
		client.Close()
		return nil, err
	}

	return &JetStreamPublisher{client: client, stream: stream}, nil
}

// NewPublisherWithClient wires an existing client, used by tests.
func NewPublisherWithClient(client ClientInterface, stream string) *JetStreamPublisher {
	return &JetStreamPublisher{client: client, stream: stream}
}

// JobFinalized publishes the terminal snapshot of an import job on
// v1.crm.<agencyID>.import.job.<status>.
func (p *JetStreamPublisher) JobFinalized(ctx context.Context, job *model.ImportJob) {
	if job == nil {
		return
	}
	subject := fmt.Sprintf("v1.crm.%s.import.job.%s", job.AgencyID, job.Status)
	payload := utils.MustMarshalJSON(map[string]interface{}{
		"job_id":         job.ID,
		"agency_id":      job.AgencyID,
		"status":         job.Status,
		"total_rows":     job.TotalRows,
		"processed_rows": job.ProcessedRows,
		"success_count":  job.SuccessCount,
		"error_count":    job.ErrorCount,
		"finalized_at":   utils.Now(),
	})
	p.publish(ctx, subject, payload)
}

// InvitationsCreated publishes the created count on
// v1.crm.<agencyID>.invitation.created.
func (p *JetStreamPublisher) InvitationsCreated(ctx context.Context, agencyID string, created int) {
	if created == 0 {
		return
	}
	subject := fmt.Sprintf("v1.crm.%s.invitation.created", agencyID)
	payload := utils.MustMarshalJSON(map[string]interface{}{
		"agency_id":  agencyID,
		"created":    created,
		"created_at": utils.Now(),
	})
	p.publish(ctx, subject, payload)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, payload []byte) {
	log := logger.FromContext(ctx)
	if err := p.client.Publish(subject, payload, nil); err != nil {
		log.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}
	log.Debug("Published event", zap.String("subject", subject))
}

// Close closes the underlying NATS connection.
func (p *JetStreamPublisher) Close() {
	p.client.Close()
}
