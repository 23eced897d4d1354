// Package worker hosts background subscribers to pipeline events.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/events"
)

// AuditWorker records every pipeline event to the log, giving operators a
// per-ticket trail without a query against the store.
type AuditWorker struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditWorker creates the worker.
func NewAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) *AuditWorker {
	return &AuditWorker{dispatcher: dispatcher, logger: logger}
}

// Start subscribes to the event stream.
func (w *AuditWorker) Start() {
	if w.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventConversationUpdated,
		events.EventAckSent,
		events.EventProcessingFailed,
		events.EventDuplicateSuppressed,
		events.EventLoopSuppressed,
	} {
		w.dispatcher.Subscribe(eventType, w.record)
	}
}

func (w *AuditWorker) record(_ context.Context, event events.Event) error {
	w.logger.Info("pipeline event",
		zap.String("event", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("correlation_id", event.CorrelationID),
		zap.Time("at", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}
