// Package pipeline orchestrates webhook processing end to end: decode,
// guard, classify, persist, acknowledge.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/classify"
	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/internal/dedup"
	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/internal/events"
	"github.com/arganhr/mailroom/internal/extract"
	"github.com/arganhr/mailroom/internal/ingest"
	"github.com/arganhr/mailroom/internal/loopguard"
	"github.com/arganhr/mailroom/internal/mailer"
	"github.com/arganhr/mailroom/internal/observability"
	"github.com/arganhr/mailroom/internal/store"
	"github.com/arganhr/mailroom/internal/thread"
	"github.com/arganhr/mailroom/internal/ticketid"
	"github.com/arganhr/mailroom/internal/wire"
	"github.com/arganhr/mailroom/pkg/util"
)

// createRetries bounds allocator reruns when a create races another
// instance into a conflict.
const createRetries = 3

// AckSender delivers a rendered acknowledgment.
type AckSender interface {
	Send(ctx context.Context, to string, ack mailer.Ack) error
}

// Result is the terminal outcome of one webhook invocation.
type Result struct {
	TicketID string
	Path     domain.Path
	Message  string
}

// Pipeline wires the processing stages together.
type Pipeline struct {
	install    config.InstallConfig
	gate       dedup.Gate
	guard      *loopguard.Guard
	classifier *classify.Classifier
	allocator  *ticketid.Allocator
	extractor  *extract.Extractor
	parser     *thread.Parser
	store      store.Store
	locks      *store.KeyedMutex
	templates  *mailer.Templates
	sender     AckSender
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	Install    config.InstallConfig
	Gate       dedup.Gate
	Guard      *loopguard.Guard
	Classifier *classify.Classifier
	Allocator  *ticketid.Allocator
	Extractor  *extract.Extractor
	Parser     *thread.Parser
	Store      store.Store
	Templates  *mailer.Templates
	Sender     AckSender
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// New assembles the pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		install:    deps.Install,
		gate:       deps.Gate,
		guard:      deps.Guard,
		classifier: deps.Classifier,
		allocator:  deps.Allocator,
		extractor:  deps.Extractor,
		parser:     deps.Parser,
		store:      deps.Store,
		locks:      store.NewKeyedMutex(),
		templates:  deps.Templates,
		sender:     deps.Sender,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Process runs one webhook payload through the pipeline. The returned error,
// when non-nil, carries the HTTP status the caller should answer with.
func (p *Pipeline) Process(ctx context.Context, raw []byte, contentType string) (*Result, error) {
	fields, err := wire.Decode(raw, contentType)
	if err != nil && !errors.Is(err, wire.ErrPartial) {
		return nil, util.NewInputError("unparseable webhook payload", err)
	}

	in, err := ingest.BuildContext(fields, p.now())
	if err != nil {
		return nil, err
	}
	in.ProcessingStatus = "decoded"

	correlationID := in.MessageID
	if correlationID == domain.UnknownMessageID {
		correlationID = uuid.NewString()
	}
	logger := p.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("from", in.FromAddr),
	)
	logger.Info("webhook received",
		zap.String("subject", in.Subject),
		zap.String("message_id", in.MessageID),
	)

	claimed, err := p.gate.Claim(ctx, in.MessageID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		logger.Info("duplicate suppressed", zap.String("message_id", in.MessageID))
		p.metrics.RecordOutcome(string(domain.PathNew), "duplicate")
		p.publish(ctx, events.EventDuplicateSuppressed, "", correlationID, nil)
		return nil, util.NewDuplicateError(in.MessageID)
	}

	if reason := p.guard.Check(in); reason != "" {
		logger.Info("loop suppressed", zap.String("reason", reason))
		p.metrics.RecordOutcome(string(domain.PathNew), "loop")
		p.publish(ctx, events.EventLoopSuppressed, "", correlationID, nil)
		return nil, util.NewLoopError(reason)
	}

	verdict := p.classifier.Classify(ctx, in)
	in.Path = verdict.Path
	in.TicketID = verdict.TicketID
	in.ProcessingStatus = "classified"
	logger.Info("message classified",
		zap.String("path", string(verdict.Path)),
		zap.String("ticket_id", verdict.TicketID),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("source", verdict.Source),
	)

	var res *Result
	if verdict.Path == domain.PathExisting {
		res, err = p.processExisting(ctx, logger, in, correlationID)
	} else {
		res, err = p.processNew(ctx, logger, in, correlationID)
	}
	if err != nil {
		// Give a redelivery a chance unless the outcome is terminal.
		if util.IsKind(err, util.KindTransient) || util.IsKind(err, util.KindFatal) {
			p.releaseClaim(ctx, in.MessageID)
		}
		p.publish(ctx, events.EventProcessingFailed, in.TicketID, correlationID, events.ProcessingFailedPayload{
			Stage:  in.ProcessingStatus,
			Reason: err.Error(),
		})
		if settled := p.settle(ctx, logger, in, err); settled != nil {
			return settled, nil
		}
		return nil, err
	}
	return res, nil
}

// settle converts failures that must not trigger a redelivery into a 200
// outcome with a diagnostic. Only a NEW-path store-write failure may reach
// the caller as 5xx; EXISTING-path exhaustion and an expired request
// deadline both settle the delivery.
func (p *Pipeline) settle(ctx context.Context, logger *zap.Logger, in *domain.InboundContext, err error) *Result {
	if !util.IsKind(err, util.KindTransient) && !util.IsKind(err, util.KindFatal) {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Warn("request deadline expired", zap.Error(err))
		p.metrics.RecordOutcome(string(in.Path), "deadline_expired")
		return &Result{
			TicketID: in.TicketID,
			Path:     in.Path,
			Message:  "processing deadline expired, delivery settled",
		}
	case in.Path == domain.PathExisting:
		logger.Warn("conversation update failed, settling delivery",
			zap.String("ticket_id", in.TicketID),
			zap.Error(err),
		)
		p.metrics.RecordOutcome(string(domain.PathExisting), "update_failed")
		return &Result{
			TicketID: in.TicketID,
			Path:     domain.PathExisting,
			Message:  fmt.Sprintf("ticket %s update failed, delivery settled", in.TicketID),
		}
	default:
		return nil
	}
}

func (p *Pipeline) processNew(ctx context.Context, logger *zap.Logger, in *domain.InboundContext, correlationID string) (*Result, error) {
	identity := p.extractor.Sender(ctx, in)
	entries := thread.Merge(nil, p.parser.Parse(ctx, in, identity))
	priority := DetectPriority(in.Subject, in.TextBody)

	now := p.now().UTC()
	rec := &domain.TicketRecord{
		Status:          domain.TicketStatusNew,
		CreatedAt:       now,
		UpdatedAt:       now,
		Subject:         in.Subject,
		Body:            in.TextBody,
		FromAddr:        in.FromAddr,
		SenderFirst:     identity.FirstName,
		SenderLast:      identity.LastName,
		OrgName:         identity.OrgName,
		MessageID:       in.MessageID,
		RawHeaders:      ingest.ConversationHeaders(in.HeadersBlob),
		SPF:             in.SPF,
		DKIM:            in.DKIM,
		HasAttachments:  in.HasAttachments,
		AttachmentCount: in.AttachmentCount,
	}
	// The opening message lives in InitialEntry alone; History carries only
	// the earlier entries the parser recovered from quoted blocks.
	if len(entries) > 0 {
		first := entries[0]
		rec.InitialEntry = &first
	}
	if len(entries) > 1 {
		rec.History = entries[1:]
	}

	recordID, err := p.createWithAllocation(ctx, logger, rec)
	if err != nil {
		return nil, err
	}
	in.TicketID = rec.TicketID
	in.ProcessingStatus = "stored"
	p.publish(ctx, events.EventTicketCreated, rec.TicketID, correlationID, events.TicketCreatedPayload{
		Subject:  in.Subject,
		FromAddr: in.FromAddr,
		Priority: priority,
	})

	ack := p.templates.Render(mailer.TemplateInput{
		TicketID:        rec.TicketID,
		FirstName:       identity.FirstName,
		NameConfidence:  identity.Confidence,
		OriginalSubject: in.Subject,
		OriginalBody:    in.TextBody,
		Priority:        priority,
	})
	if err := p.sender.Send(ctx, in.FromAddr, ack); err != nil {
		// The ticket exists; a lost acknowledgment is an operator followup,
		// not a webhook failure.
		logger.Warn("acknowledgment send failed",
			zap.String("ticket_id", rec.TicketID),
			zap.Error(err),
		)
		p.metrics.RecordOutcome(string(domain.PathNew), "ack_failed")
		return &Result{
			TicketID: rec.TicketID,
			Path:     domain.PathNew,
			Message:  fmt.Sprintf("ticket %s created, acknowledgment pending", rec.TicketID),
		}, nil
	}

	if err := p.store.SetAckSent(ctx, recordID, true); err != nil {
		logger.Warn("acknowledgment flag update failed",
			zap.String("ticket_id", rec.TicketID),
			zap.Error(err),
		)
	}
	in.ProcessingStatus = "acknowledged"
	p.metrics.RecordOutcome(string(domain.PathNew), "ack_sent")
	p.publish(ctx, events.EventAckSent, rec.TicketID, correlationID, events.AckSentPayload{
		Recipient: in.FromAddr,
		Subject:   ack.Subject,
	})
	logger.Info("ticket created", zap.String("ticket_id", rec.TicketID))

	return &Result{
		TicketID: rec.TicketID,
		Path:     domain.PathNew,
		Message:  fmt.Sprintf("ticket %s created", rec.TicketID),
	}, nil
}

// createWithAllocation allocates an identifier and inserts the record,
// reallocating when another instance claims the same identifier first.
func (p *Pipeline) createWithAllocation(ctx context.Context, logger *zap.Logger, rec *domain.TicketRecord) (string, error) {
	for attempt := 0; attempt < createRetries; attempt++ {
		ticketID, err := p.allocator.Allocate(ctx)
		if err != nil {
			return "", wrapStoreErr(err, "ticket allocation failed")
		}
		rec.TicketID = ticketID

		recordID, err := p.store.Create(ctx, rec)
		if err == nil {
			return recordID, nil
		}
		if errors.Is(err, store.ErrConflict) {
			logger.Warn("create collided, reallocating", zap.String("ticket_id", ticketID))
			continue
		}
		return "", wrapStoreErr(err, "ticket create failed")
	}
	return "", util.NewFatalError("ticket create failed after reallocation", nil)
}

func (p *Pipeline) processExisting(ctx context.Context, logger *zap.Logger, in *domain.InboundContext, correlationID string) (*Result, error) {
	unlock := p.locks.Lock(in.TicketID)
	defer unlock()

	rec, err := p.store.FindByTicket(ctx, in.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		// A stale or mistyped reference. Nothing to update and nothing the
		// gateway can do about it.
		logger.Warn("referenced ticket not found", zap.String("ticket_id", in.TicketID))
		p.metrics.RecordOutcome(string(domain.PathExisting), "not_found")
		return nil, util.NewNotFoundError("ticket " + in.TicketID)
	}
	if err != nil {
		return nil, wrapStoreErr(err, "ticket lookup failed")
	}

	identity := p.extractor.Sender(ctx, in)
	incoming := p.parser.Parse(ctx, in, identity)
	merged := thread.Merge(rec.History, incoming)

	// A reply from the original requester hands the thread to an agent; a
	// reply from anyone else leaves the ball with the client.
	status := domain.TicketStatusAwaitingAgent
	if !strings.EqualFold(in.FromAddr, rec.FromAddr) {
		status = domain.TicketStatusAwaitingClient
	}
	now := p.now().UTC()
	headers := appendHeaders(rec.RawHeaders, ingest.ConversationHeaders(in.HeadersBlob))
	patch := domain.TicketPatch{
		Status:     &status,
		History:    merged,
		RawHeaders: &headers,
		UpdatedAt:  &now,
	}
	if err := p.store.Update(ctx, rec.ID, patch); err != nil {
		return nil, wrapStoreErr(err, "conversation update failed")
	}
	in.ProcessingStatus = "updated"
	p.metrics.RecordOutcome(string(domain.PathExisting), "updated")
	p.publish(ctx, events.EventConversationUpdated, in.TicketID, correlationID, events.ConversationUpdatedPayload{
		EntryCount: len(merged),
		NewStatus:  status,
	})
	logger.Info("conversation updated",
		zap.String("ticket_id", in.TicketID),
		zap.Int("entries", len(merged)),
	)

	return &Result{
		TicketID: in.TicketID,
		Path:     domain.PathExisting,
		Message:  fmt.Sprintf("ticket %s updated", in.TicketID),
	}, nil
}

func (p *Pipeline) releaseClaim(ctx context.Context, messageID string) {
	if err := p.gate.Release(ctx, messageID); err != nil {
		p.logger.Warn("dedup release failed", zap.String("message_id", messageID), zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, eventType events.EventType, ticketID, correlationID string, payload any) {
	if p.dispatcher == nil {
		return
	}
	_ = p.dispatcher.Publish(ctx, events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		TicketID:      ticketID,
		CorrelationID: correlationID,
		Timestamp:     p.now().UTC(),
		Payload:       payload,
	})
}

// wrapStoreErr keeps typed errors intact and folds sentinel store errors
// into the pipeline's taxonomy.
func wrapStoreErr(err error, message string) error {
	var domainErr *util.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return util.NewFatalError(message, err)
}

// appendHeaders accumulates threading headers across the ticket's life.
func appendHeaders(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case existing == "":
		return incoming
	case incoming == "":
		return existing
	default:
		return existing + "\n" + incoming
	}
}

// DetectPriority tiers a message by urgency phrasing in its subject and the
// head of its body.
func DetectPriority(subject, body string) domain.TicketPriority {
	if len(body) > 500 {
		body = body[:500]
	}
	text := strings.ToLower(subject + " " + body)
	switch {
	case strings.Contains(text, "urgent") || strings.Contains(text, "asap") || strings.Contains(text, "emergency"):
		return domain.TicketPriorityUrgent
	case strings.Contains(text, "important") || strings.Contains(text, "high priority"):
		return domain.TicketPriorityHigh
	default:
		return domain.TicketPriorityNormal
	}
}
