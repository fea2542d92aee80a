package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

type postgresTranscriptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTranscriptStore instantiates the pgx-backed transcript store.
func NewPostgresTranscriptStore(pool *pgxpool.Pool) TranscriptStore {
	return &postgresTranscriptStore{pool: pool}
}

func (r *postgresTranscriptStore) Append(ctx context.Context, entry *domain.TranscriptEntry) error {
	attachments, err := encodeJSON(stringsOrEmpty(entry.Attachments))
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO transcript_entries (ticket_id, message_id, author_id, content, attachments, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING seq`
	if err := r.pool.QueryRow(ctx, query,
		entry.TicketID, entry.MessageID, entry.AuthorID, entry.Content, attachments, entry.Timestamp.UTC(),
	).Scan(&entry.Seq); err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

func (r *postgresTranscriptStore) ListEntries(ctx context.Context, ticketID string) ([]domain.TranscriptEntry, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT seq, ticket_id, message_id, author_id, content, attachments, created_at
        FROM transcript_entries WHERE ticket_id=$1 ORDER BY seq`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var (
			entry       domain.TranscriptEntry
			attachments []byte
		)
		if err := rows.Scan(&entry.Seq, &entry.TicketID, &entry.MessageID, &entry.AuthorID,
			&entry.Content, &attachments, &entry.Timestamp); err != nil {
			return nil, err
		}
		if entry.Attachments, err = decodeAttachments(string(attachments)); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.Timestamp.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *postgresTranscriptStore) SaveArtifact(ctx context.Context, artifact *domain.TranscriptArtifact) (bool, error) {
	const query = `
        INSERT INTO transcript_artifacts (ticket_id, format, data, entry_count, created_at, archived_at, owner_delivered_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (ticket_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		artifact.TicketID,
		string(artifact.Format),
		artifact.Data,
		artifact.EntryCount,
		artifact.CreatedAt.UTC(),
		utcPtr(artifact.ArchivedAt),
		utcPtr(artifact.OwnerDeliveredAt),
	)
	if err != nil {
		return false, fmt.Errorf("save transcript artifact: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresTranscriptStore) GetArtifact(ctx context.Context, ticketID string) (*domain.TranscriptArtifact, error) {
	var (
		artifact domain.TranscriptArtifact
		format   string
	)
	err := r.pool.QueryRow(ctx, `
        SELECT ticket_id, format, data, entry_count, created_at, archived_at, owner_delivered_at
        FROM transcript_artifacts WHERE ticket_id=$1`, ticketID,
	).Scan(&artifact.TicketID, &format, &artifact.Data, &artifact.EntryCount,
		&artifact.CreatedAt, &artifact.ArchivedAt, &artifact.OwnerDeliveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	artifact.Format = domain.TranscriptFormat(format)
	artifact.CreatedAt = artifact.CreatedAt.UTC()
	artifact.ArchivedAt = utcPtr(artifact.ArchivedAt)
	artifact.OwnerDeliveredAt = utcPtr(artifact.OwnerDeliveredAt)
	return &artifact, nil
}

func (r *postgresTranscriptStore) MarkArchived(ctx context.Context, ticketID string, at time.Time) error {
	return r.stamp(ctx, `UPDATE transcript_artifacts SET archived_at=COALESCE(archived_at, $1) WHERE ticket_id=$2`, ticketID, at)
}

func (r *postgresTranscriptStore) MarkOwnerDelivered(ctx context.Context, ticketID string, at time.Time) error {
	return r.stamp(ctx, `UPDATE transcript_artifacts SET owner_delivered_at=COALESCE(owner_delivered_at, $1) WHERE ticket_id=$2`, ticketID, at)
}

func (r *postgresTranscriptStore) stamp(ctx context.Context, query, ticketID string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, query, at.UTC(), ticketID)
	if err != nil {
		return fmt.Errorf("stamp transcript artifact: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresTranscriptStore) ListUnarchived(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT t.id FROM tickets t
        LEFT JOIN transcript_artifacts a ON a.ticket_id = t.id
        WHERE t.state=$1 AND (a.ticket_id IS NULL OR a.archived_at IS NULL)
        ORDER BY t.closed_at, t.id`, string(domain.TicketStateClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
