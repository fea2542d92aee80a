package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

type sqliteTranscriptStore struct {
	db *sql.DB
}

// NewSQLiteTranscriptStore builds the file-backed transcript store.
func NewSQLiteTranscriptStore(db *sql.DB) TranscriptStore {
	return &sqliteTranscriptStore{db: db}
}

func (s *sqliteTranscriptStore) Append(ctx context.Context, entry *domain.TranscriptEntry) error {
	attachments, err := encodeJSON(stringsOrEmpty(entry.Attachments))
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO transcript_entries (ticket_id, message_id, author_id, content, attachments, created_at)
        VALUES (?,?,?,?,?,?)`
	res, err := s.db.ExecContext(ctx, query,
		entry.TicketID, entry.MessageID, entry.AuthorID, entry.Content, attachments, toNanos(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	entry.Seq = seq
	return nil
}

func (s *sqliteTranscriptStore) ListEntries(ctx context.Context, ticketID string) ([]domain.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT seq, ticket_id, message_id, author_id, content, attachments, created_at
        FROM transcript_entries WHERE ticket_id = ? ORDER BY seq`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var (
			entry       domain.TranscriptEntry
			attachments string
			createdAt   int64
		)
		if err := rows.Scan(&entry.Seq, &entry.TicketID, &entry.MessageID, &entry.AuthorID,
			&entry.Content, &attachments, &createdAt); err != nil {
			return nil, err
		}
		if entry.Attachments, err = decodeAttachments(attachments); err != nil {
			return nil, err
		}
		entry.Timestamp = fromNanos(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqliteTranscriptStore) SaveArtifact(ctx context.Context, artifact *domain.TranscriptArtifact) (bool, error) {
	const query = `
        INSERT INTO transcript_artifacts (ticket_id, format, data, entry_count, created_at, archived_at, owner_delivered_at)
        VALUES (?,?,?,?,?,?,?)
        ON CONFLICT(ticket_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		artifact.TicketID,
		string(artifact.Format),
		artifact.Data,
		artifact.EntryCount,
		toNanos(artifact.CreatedAt),
		nullNanos(artifact.ArchivedAt),
		nullNanos(artifact.OwnerDeliveredAt),
	)
	if err != nil {
		return false, fmt.Errorf("save transcript artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save transcript artifact: %w", err)
	}
	return affected == 1, nil
}

func (s *sqliteTranscriptStore) GetArtifact(ctx context.Context, ticketID string) (*domain.TranscriptArtifact, error) {
	var (
		artifact    domain.TranscriptArtifact
		format      string
		createdAt   int64
		archivedAt  sql.NullInt64
		deliveredAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT ticket_id, format, data, entry_count, created_at, archived_at, owner_delivered_at
        FROM transcript_artifacts WHERE ticket_id = ?`, ticketID,
	).Scan(&artifact.TicketID, &format, &artifact.Data, &artifact.EntryCount, &createdAt, &archivedAt, &deliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	artifact.Format = domain.TranscriptFormat(format)
	artifact.CreatedAt = fromNanos(createdAt)
	artifact.ArchivedAt = timeFromNull(archivedAt)
	artifact.OwnerDeliveredAt = timeFromNull(deliveredAt)
	return &artifact, nil
}

func (s *sqliteTranscriptStore) MarkArchived(ctx context.Context, ticketID string, at time.Time) error {
	return s.stamp(ctx, `UPDATE transcript_artifacts SET archived_at = COALESCE(archived_at, ?) WHERE ticket_id = ?`, ticketID, at)
}

func (s *sqliteTranscriptStore) MarkOwnerDelivered(ctx context.Context, ticketID string, at time.Time) error {
	return s.stamp(ctx, `UPDATE transcript_artifacts SET owner_delivered_at = COALESCE(owner_delivered_at, ?) WHERE ticket_id = ?`, ticketID, at)
}

func (s *sqliteTranscriptStore) stamp(ctx context.Context, query, ticketID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, query, toNanos(at), ticketID)
	if err != nil {
		return fmt.Errorf("stamp transcript artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp transcript artifact: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteTranscriptStore) ListUnarchived(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT t.id FROM tickets t
        LEFT JOIN transcript_artifacts a ON a.ticket_id = t.id
        WHERE t.state = ? AND (a.ticket_id IS NULL OR a.archived_at IS NULL)
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
