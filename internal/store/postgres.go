package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arganhr/mailroom/internal/domain"
	"github.com/arganhr/mailroom/pkg/util"
)

const pgUniqueViolation = "23505"

// Postgres persists ticket records in a relational table. Unlike the hosted
// backend it enforces uniqueness on ticket_number, so a racing create is
// caught here and surfaced as ErrConflict.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres instantiates the backend over an established pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) FindByTicket(ctx context.Context, ticketID string) (*domain.TicketRecord, error) {
	const query = `
        SELECT id, ticket_number, status, created_at, updated_at, subject, email_body,
               original_sender, sender_first_name, sender_last_name, organization_name,
               message_id, raw_headers, spf_result, dkim_result, has_attachments,
               attachment_count, initial_auto_reply_sent, initial_conversation_query,
               conversation_history
        FROM tickets WHERE ticket_number=$1`

	var (
		rec         domain.TicketRecord
		initialJSON []byte
		historyJSON []byte
	)
	err := p.pool.QueryRow(ctx, query, ticketID).Scan(
		&rec.ID,
		&rec.TicketID,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Subject,
		&rec.Body,
		&rec.FromAddr,
		&rec.SenderFirst,
		&rec.SenderLast,
		&rec.OrgName,
		&rec.MessageID,
		&rec.RawHeaders,
		&rec.SPF,
		&rec.DKIM,
		&rec.HasAttachments,
		&rec.AttachmentCount,
		&rec.AckSent,
		&initialJSON,
		&historyJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, util.NewTransientError("ticket lookup failed", err)
	}

	if len(initialJSON) > 0 {
		var entry domain.ConversationEntry
		if json.Unmarshal(initialJSON, &entry) == nil {
			rec.InitialEntry = &entry
		}
	}
	if len(historyJSON) > 0 {
		_ = json.Unmarshal(historyJSON, &rec.History)
	}
	return &rec, nil
}

func (p *Postgres) ListTicketIDs(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT ticket_number FROM tickets WHERE ticket_number LIKE $1 || '%'`
	rows, err := p.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, util.NewTransientError("ticket listing failed", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, util.NewTransientError("ticket listing scan failed", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewTransientError("ticket listing failed", err)
	}
	return ids, nil
}

func (p *Postgres) Create(ctx context.Context, rec *domain.TicketRecord) (string, error) {
	const query = `
        INSERT INTO tickets (id, ticket_number, status, created_at, updated_at, subject,
            email_body, original_sender, sender_first_name, sender_last_name,
            organization_name, message_id, raw_headers, spf_result, dkim_result,
            has_attachments, attachment_count, initial_auto_reply_sent,
            initial_conversation_query, conversation_history)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	id := uuid.NewString()
	initialJSON, err := json.Marshal(rec.InitialEntry)
	if err != nil {
		return "", util.NewFatalError("conversation encode failed", err)
	}
	history := rec.History
	if history == nil {
		history = []domain.ConversationEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", util.NewFatalError("conversation encode failed", err)
	}

	_, err = p.pool.Exec(ctx, query,
		id,
		rec.TicketID,
		rec.Status,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.Subject,
		rec.Body,
		rec.FromAddr,
		rec.SenderFirst,
		rec.SenderLast,
		rec.OrgName,
		rec.MessageID,
		rec.RawHeaders,
		rec.SPF,
		rec.DKIM,
		rec.HasAttachments,
		rec.AttachmentCount,
		rec.AckSent,
		initialJSON,
		historyJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", ErrConflict
		}
		return "", util.NewTransientError("ticket insert failed", err)
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, recordID string, patch domain.TicketPatch) error {
	const query = `
        UPDATE tickets SET
            status = COALESCE($1, status),
            conversation_history = COALESCE($2, conversation_history),
            raw_headers = COALESCE($3, raw_headers),
            updated_at = COALESCE($4, updated_at)
        WHERE id=$5`

	var historyJSON []byte
	if patch.History != nil {
		buf, err := json.Marshal(patch.History)
		if err != nil {
			return util.NewFatalError("conversation encode failed", err)
		}
		historyJSON = buf
	}
	var updatedAt *time.Time
	if patch.UpdatedAt != nil {
		t := patch.UpdatedAt.UTC()
		updatedAt = &t
	}

	cmd, err := p.pool.Exec(ctx, query, patch.Status, historyJSON, patch.RawHeaders, updatedAt, recordID)
	if err != nil {
		return util.NewTransientError("ticket update failed", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetAckSent(ctx context.Context, recordID string, sent bool) error {
	const query = `UPDATE tickets SET initial_auto_reply_sent=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := p.pool.Exec(ctx, query, sent, recordID)
	if err != nil {
		return util.NewTransientError("ticket flag update failed", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
