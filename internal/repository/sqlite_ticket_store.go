package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

const sqliteTicketColumns = `id, guild_id, channel_id, owner_id, category_key, state, claimed_by,
       transfer_history, control_message_id, created_at, last_activity_at, warned_at,
       closed_at, closed_by, close_reason, closed_claimant, version`

type rowScanner interface {
	Scan(dest ...any) error
}

type sqliteTicketStore struct {
	db *sql.DB
}

// NewSQLiteTicketStore builds the file-backed ticket store.
func NewSQLiteTicketStore(db *sql.DB) TicketStore {
	return &sqliteTicketStore{db: db}
}

func (s *sqliteTicketStore) Create(ctx context.Context, ticket *domain.Ticket) (string, error) {
	history, err := encodeJSON(transfersOrEmpty(ticket.TransferHistory))
	if err != nil {
		return "", err
	}
	ticket.Version = 1
	const query = `
        INSERT INTO tickets (id, guild_id, channel_id, owner_id, category_key, state, claimed_by,
            transfer_history, control_message_id, created_at, last_activity_at, warned_at,
            closed_at, closed_by, close_reason, closed_claimant, version)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, query,
		ticket.ID,
		ticket.GuildID,
		ticket.ChannelID,
		ticket.OwnerID,
		ticket.CategoryKey,
		string(ticket.State),
		nullString(ticket.ClaimedBy),
		history,
		ticket.ControlMessageID,
		toNanos(ticket.CreatedAt),
		toNanos(ticket.LastActivityAt),
		nullNanos(ticket.WarnedAt),
		nullNanos(ticket.ClosedAt),
		ticket.ClosedBy,
		string(ticket.CloseReason),
		ticket.ClosedClaimant,
		ticket.Version,
	)
	if err != nil {
		return "", fmt.Errorf("insert ticket: %w", err)
	}
	return ticket.ID, nil
}

func (s *sqliteTicketStore) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets WHERE id = ?`, id)
	return scanSQLiteTicket(row)
}

func (s *sqliteTicketStore) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets WHERE channel_id = ?`, channelID)
	return scanSQLiteTicket(row)
}

func (s *sqliteTicketStore) Update(ctx context.Context, id string, mutate TicketMutator) (*domain.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanSQLiteTicket(tx.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	next, err := prepareMutation(current, mutate)
	if err != nil {
		return nil, err
	}
	history, err := encodeJSON(transfersOrEmpty(next.TransferHistory))
	if err != nil {
		return nil, err
	}

	const query = `
        UPDATE tickets SET channel_id=?, state=?, claimed_by=?, transfer_history=?, control_message_id=?,
            last_activity_at=?, warned_at=?, closed_at=?, closed_by=?, close_reason=?,
            closed_claimant=?, version=?
        WHERE id=? AND version=?`
	res, err := tx.ExecContext(ctx, query,
		next.ChannelID,
		string(next.State),
		nullString(next.ClaimedBy),
		history,
		next.ControlMessageID,
		toNanos(next.LastActivityAt),
		nullNanos(next.WarnedAt),
		nullNanos(next.ClosedAt),
		next.ClosedBy,
		string(next.CloseReason),
		next.ClosedClaimant,
		next.Version,
		current.ID,
		current.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if affected == 0 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *sqliteTicketStore) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTicketColumns+` FROM tickets WHERE state <> ? ORDER BY created_at, id`,
		string(domain.TicketStateClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (s *sqliteTicketStore) FindOpenByOwner(ctx context.Context, ownerID, categoryKey string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTicketColumns+` FROM tickets
         WHERE owner_id = ? AND category_key = ? AND state <> ?
         ORDER BY created_at LIMIT 1`,
		ownerID, categoryKey, string(domain.TicketStateClosed))
	return scanSQLiteTicket(row)
}

func (s *sqliteTicketStore) UpsertPanel(ctx context.Context, panel *domain.Panel) error {
	categories, err := encodeJSON(panel.Categories)
	if err != nil {
		return err
	}
	if panel.Key == "" {
		panel.Key = domain.PanelKey
	}
	const query = `
        INSERT INTO panels (key, channel_id, message_id, title, categories, updated_at)
        VALUES (?,?,?,?,?,?)
        ON CONFLICT(key) DO UPDATE SET channel_id=excluded.channel_id, message_id=excluded.message_id,
            title=excluded.title, categories=excluded.categories, updated_at=excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query,
		panel.Key, panel.ChannelID, panel.MessageID, panel.Title, categories, toNanos(panel.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert panel: %w", err)
	}
	return nil
}

func (s *sqliteTicketStore) GetPanel(ctx context.Context) (*domain.Panel, error) {
	var (
		panel      domain.Panel
		categories string
		updatedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, channel_id, message_id, title, categories, updated_at FROM panels WHERE key = ?`,
		domain.PanelKey,
	).Scan(&panel.Key, &panel.ChannelID, &panel.MessageID, &panel.Title, &categories, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if panel.Categories, err = decodeCategories(categories); err != nil {
		return nil, err
	}
	panel.UpdatedAt = fromNanos(updatedAt)
	return &panel, nil
}

func (s *sqliteTicketStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanSQLiteTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket         domain.Ticket
		state          string
		closeReason    string
		claimedBy      sql.NullString
		history        string
		createdAt      int64
		lastActivityAt int64
		warnedAt       sql.NullInt64
		closedAt       sql.NullInt64
	)
	err := row.Scan(
		&ticket.ID,
		&ticket.GuildID,
		&ticket.ChannelID,
		&ticket.OwnerID,
		&ticket.CategoryKey,
		&state,
		&claimedBy,
		&history,
		&ticket.ControlMessageID,
		&createdAt,
		&lastActivityAt,
		&warnedAt,
		&closedAt,
		&ticket.ClosedBy,
		&closeReason,
		&ticket.ClosedClaimant,
		&ticket.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ticket.State = domain.TicketState(state)
	ticket.CloseReason = domain.CloseReason(closeReason)
	ticket.ClaimedBy = stringFromNull(claimedBy)
	ticket.CreatedAt = fromNanos(createdAt)
	ticket.LastActivityAt = fromNanos(lastActivityAt)
	ticket.WarnedAt = timeFromNull(warnedAt)
	ticket.ClosedAt = timeFromNull(closedAt)
	if ticket.TransferHistory, err = decodeTransfers(history); err != nil {
		return nil, err
	}
	return &ticket, nil
}
