package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/pkg/util"
)

const airtableBaseURL = "https://api.airtable.com/v0"

// Airtable talks to the hosted document store. Records are addressed by
// formula filter on the ticket_number field; the backend enforces no
// uniqueness, so the allocator's verify step is the only collision defense.
type Airtable struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewAirtable builds the HTTP backend from configuration.
func NewAirtable(cfg config.StoreConfig, logger *zap.Logger) *Airtable {
	return &Airtable{
		http:    &http.Client{Timeout: cfg.Deadline()},
		baseURL: fmt.Sprintf("%s/%s/%s", airtableBaseURL, cfg.BaseID, url.PathEscape(cfg.Table)),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type airtableRecord struct {
	ID     string         `json:"id,omitempty"`
	Fields airtableFields `json:"fields"`
}

type airtableList struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset,omitempty"`
}

// airtableFields mirrors the table's column names.
type airtableFields struct {
	TicketNumber      string `json:"ticket_number,omitempty"`
	Status            string `json:"status,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
	Subject           string `json:"subject,omitempty"`
	EmailBody         string `json:"email_body,omitempty"`
	OriginalSender    string `json:"original_sender,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	RawHeaders        string `json:"raw_headers,omitempty"`
	SPFResult         string `json:"spf_result,omitempty"`
	DKIMResult        string `json:"dkim_result,omitempty"`
	HasAttachments    bool   `json:"has_attachments,omitempty"`
	AttachmentCount   int    `json:"attachment_count,omitempty"`
	AutoReplySent     *bool  `json:"initial_auto_reply_sent,omitempty"`
	SenderFirstName   string `json:"sender_first_name,omitempty"`
	SenderLastName    string `json:"sender_last_name,omitempty"`
	OrganizationName  string `json:"organization_name,omitempty"`
	InitialQuery      string `json:"initial_conversation_query,omitempty"`
	ConversationHist  string `json:"conversation_history,omitempty"`
}

func (a *Airtable) FindByTicket(ctx context.Context, ticketID string) (*domain.TicketRecord, error) {
	formula := fmt.Sprintf("{ticket_number}='%s'", strings.ReplaceAll(ticketID, "'", ""))
	endpoint := a.baseURL + "?maxRecords=1&filterByFormula=" + url.QueryEscape(formula)

	var list airtableList
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Records) == 0 {
		return nil, ErrNotFound
	}
	return recordFromAirtable(list.Records[0]), nil
}

func (a *Airtable) ListTicketIDs(ctx context.Context, prefix string) ([]string, error) {
	formula := fmt.Sprintf("FIND('%s', {ticket_number}) = 1", strings.ReplaceAll(prefix, "'", ""))
	base := a.baseURL + "?fields%5B%5D=ticket_number&filterByFormula=" + url.QueryEscape(formula)

	var ids []string
	offset := ""
	for {
		endpoint := base
		if offset != "" {
			endpoint += "&offset=" + url.QueryEscape(offset)
		}
		var list airtableList
		if err := a.do(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
			return nil, err
		}
		for _, rec := range list.Records {
			if rec.Fields.TicketNumber != "" {
				ids = append(ids, rec.Fields.TicketNumber)
			}
		}
		if list.Offset == "" {
			return ids, nil
		}
		offset = list.Offset
	}
}

func (a *Airtable) Create(ctx context.Context, rec *domain.TicketRecord) (string, error) {
	payload := airtableRecord{Fields: fieldsFromRecord(rec)}
	var created airtableRecord
	if err := a.do(ctx, http.MethodPost, a.baseURL, payload, &created); err != nil {
		return "", err
	}
	a.logger.Info("ticket record created",
		zap.String("ticket_id", rec.TicketID),
		zap.String("record_id", created.ID),
	)
	return created.ID, nil
}

func (a *Airtable) Update(ctx context.Context, recordID string, patch domain.TicketPatch) error {
	fields := airtableFields{}
	if patch.Status != nil {
		fields.Status = string(*patch.Status)
	}
	if patch.History != nil {
		fields.ConversationHist = marshalHistory(patch.History)
	}
	if patch.RawHeaders != nil {
		fields.RawHeaders = *patch.RawHeaders
	}
	if patch.UpdatedAt != nil {
		fields.UpdatedAt = patch.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return a.do(ctx, http.MethodPatch, a.baseURL+"/"+recordID, airtableRecord{Fields: fields}, nil)
}

func (a *Airtable) SetAckSent(ctx context.Context, recordID string, sent bool) error {
	fields := airtableFields{AutoReplySent: &sent}
	return a.do(ctx, http.MethodPatch, a.baseURL+"/"+recordID, airtableRecord{Fields: fields}, nil)
}

func (a *Airtable) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return util.NewFatalError("store encode failed", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return util.NewFatalError("store request build failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return util.NewTransientError("store call failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return util.NewTransientError(fmt.Sprintf("store returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return util.NewFatalError(fmt.Sprintf("store returned %d: %s", resp.StatusCode, msg), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return util.NewTransientError("store decode failed", err)
	}
	return nil
}

func fieldsFromRecord(rec *domain.TicketRecord) airtableFields {
	ackSent := rec.AckSent
	return airtableFields{
		TicketNumber:     rec.TicketID,
		Status:           string(rec.Status),
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        rec.UpdatedAt.UTC().Format(time.RFC3339),
		Subject:          rec.Subject,
		EmailBody:        rec.Body,
		OriginalSender:   rec.FromAddr,
		MessageID:        rec.MessageID,
		RawHeaders:       rec.RawHeaders,
		SPFResult:        rec.SPF,
		DKIMResult:       rec.DKIM,
		HasAttachments:   rec.HasAttachments,
		AttachmentCount:  rec.AttachmentCount,
		AutoReplySent:    &ackSent,
		SenderFirstName:  rec.SenderFirst,
		SenderLastName:   rec.SenderLast,
		OrganizationName: rec.OrgName,
		InitialQuery:     marshalEntry(rec.InitialEntry),
		ConversationHist: marshalHistory(rec.History),
	}
}

func recordFromAirtable(rec airtableRecord) *domain.TicketRecord {
	f := rec.Fields
	out := &domain.TicketRecord{
		ID:              rec.ID,
		TicketID:        f.TicketNumber,
		Status:          domain.TicketStatus(f.Status),
		Subject:         f.Subject,
		Body:            f.EmailBody,
		FromAddr:        f.OriginalSender,
		SenderFirst:     f.SenderFirstName,
		SenderLast:      f.SenderLastName,
		OrgName:         f.OrganizationName,
		MessageID:       f.MessageID,
		RawHeaders:      f.RawHeaders,
		SPF:             f.SPFResult,
		DKIM:            f.DKIMResult,
		HasAttachments:  f.HasAttachments,
		AttachmentCount: f.AttachmentCount,
	}
	if f.AutoReplySent != nil {
		out.AckSent = *f.AutoReplySent
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedAt); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, f.UpdatedAt); err == nil {
		out.UpdatedAt = t
	}
	out.InitialEntry = unmarshalEntry(f.InitialQuery)
	out.History = unmarshalHistory(f.ConversationHist)
	return out
}

func marshalEntry(entry *domain.ConversationEntry) string {
	if entry == nil {
		return ""
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return string(buf)
}

func unmarshalEntry(raw string) *domain.ConversationEntry {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var entry domain.ConversationEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil
	}
	return &entry
}

func marshalHistory(history []domain.ConversationEntry) string {
	if history == nil {
		history = []domain.ConversationEntry{}
	}
	buf, err := json.Marshal(history)
	if err != nil {
		return "[]"
	}
	return string(buf)
}

func unmarshalHistory(raw string) []domain.ConversationEntry {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var history []domain.ConversationEntry
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil
	}
	return history
}
