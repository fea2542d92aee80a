package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

const pgTicketColumns = `id, guild_id, channel_id, owner_id, category_key, state, claimed_by,
       transfer_history, control_message_id, created_at, last_activity_at, warned_at,
       closed_at, closed_by, close_reason, closed_claimant, version`

type postgresTicketStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketStore instantiates the pgx-backed ticket store.
func NewPostgresTicketStore(pool *pgxpool.Pool) TicketStore {
	return &postgresTicketStore{pool: pool}
}

func (r *postgresTicketStore) Create(ctx context.Context, ticket *domain.Ticket) (string, error) {
	history, err := encodeJSON(transfersOrEmpty(ticket.TransferHistory))
	if err != nil {
		return "", err
	}
	ticket.Version = 1
	const query = `
        INSERT INTO tickets (id, guild_id, channel_id, owner_id, category_key, state, claimed_by,
            transfer_history, control_message_id, created_at, last_activity_at, warned_at,
            closed_at, closed_by, close_reason, closed_claimant, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.GuildID,
		ticket.ChannelID,
		ticket.OwnerID,
		ticket.CategoryKey,
		string(ticket.State),
		ticket.ClaimedBy,
		history,
		ticket.ControlMessageID,
		ticket.CreatedAt.UTC(),
		ticket.LastActivityAt.UTC(),
		utcPtr(ticket.WarnedAt),
		utcPtr(ticket.ClosedAt),
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

func (r *postgresTicketStore) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return scanPgTicket(r.pool.QueryRow(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE id=$1`, id))
}

func (r *postgresTicketStore) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return scanPgTicket(r.pool.QueryRow(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE channel_id=$1`, channelID))
}

func (r *postgresTicketStore) Update(ctx context.Context, id string, mutate TicketMutator) (*domain.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanPgTicket(tx.QueryRow(ctx, `SELECT `+pgTicketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id))
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
        UPDATE tickets SET channel_id=$1, state=$2, claimed_by=$3, transfer_history=$4, control_message_id=$5,
            last_activity_at=$6, warned_at=$7, closed_at=$8, closed_by=$9, close_reason=$10,
            closed_claimant=$11, version=$12
        WHERE id=$13 AND version=$14`
	cmd, err := tx.Exec(ctx, query,
		next.ChannelID,
		string(next.State),
		next.ClaimedBy,
		history,
		next.ControlMessageID,
		next.LastActivityAt.UTC(),
		utcPtr(next.WarnedAt),
		utcPtr(next.ClosedAt),
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
	if cmd.RowsAffected() == 0 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (r *postgresTicketStore) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pgTicketColumns+` FROM tickets WHERE state <> $1 ORDER BY created_at, id`,
		string(domain.TicketStateClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanPgTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *postgresTicketStore) FindOpenByOwner(ctx context.Context, ownerID, categoryKey string) (*domain.Ticket, error) {
	return scanPgTicket(r.pool.QueryRow(ctx,
		`SELECT `+pgTicketColumns+` FROM tickets
         WHERE owner_id=$1 AND category_key=$2 AND state <> $3
         ORDER BY created_at LIMIT 1`,
		ownerID, categoryKey, string(domain.TicketStateClosed)))
}

func (r *postgresTicketStore) UpsertPanel(ctx context.Context, panel *domain.Panel) error {
	categories, err := encodeJSON(panel.Categories)
	if err != nil {
		return err
	}
	if panel.Key == "" {
		panel.Key = domain.PanelKey
	}
	const query = `
        INSERT INTO panels (key, channel_id, message_id, title, categories, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (key) DO UPDATE SET channel_id=EXCLUDED.channel_id, message_id=EXCLUDED.message_id,
            title=EXCLUDED.title, categories=EXCLUDED.categories, updated_at=EXCLUDED.updated_at`
	if _, err := r.pool.Exec(ctx, query,
		panel.Key, panel.ChannelID, panel.MessageID, panel.Title, categories, panel.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upsert panel: %w", err)
	}
	return nil
}

func (r *postgresTicketStore) GetPanel(ctx context.Context) (*domain.Panel, error) {
	var (
		panel      domain.Panel
		categories []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT key, channel_id, message_id, title, categories, updated_at FROM panels WHERE key=$1`,
		domain.PanelKey,
	).Scan(&panel.Key, &panel.ChannelID, &panel.MessageID, &panel.Title, &categories, &panel.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if panel.Categories, err = decodeCategories(string(categories)); err != nil {
		return nil, err
	}
	panel.UpdatedAt = panel.UpdatedAt.UTC()
	return &panel, nil
}

func (r *postgresTicketStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanPgTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		state       string
		closeReason string
		history     []byte
	)
	err := row.Scan(
		&ticket.ID,
		&ticket.GuildID,
		&ticket.ChannelID,
		&ticket.OwnerID,
		&ticket.CategoryKey,
		&state,
		&ticket.ClaimedBy,
		&history,
		&ticket.ControlMessageID,
		&ticket.CreatedAt,
		&ticket.LastActivityAt,
		&ticket.WarnedAt,
		&ticket.ClosedAt,
		&ticket.ClosedBy,
		&closeReason,
		&ticket.ClosedClaimant,
		&ticket.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ticket.State = domain.TicketState(state)
	ticket.CloseReason = domain.CloseReason(closeReason)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.LastActivityAt = ticket.LastActivityAt.UTC()
	ticket.WarnedAt = utcPtr(ticket.WarnedAt)
	ticket.ClosedAt = utcPtr(ticket.ClosedAt)
	if ticket.TransferHistory, err = decodeTransfers(string(history)); err != nil {
		return nil, err
	}
	return &ticket, nil
}
