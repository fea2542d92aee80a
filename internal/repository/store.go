package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

var (
	// ErrNotFound is returned when a ticket, panel or artifact does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrTicketClosed is returned when a mutation targets a closed ticket.
	ErrTicketClosed = errors.New("ticket is closed")
	// ErrVersionConflict is returned when a concurrent writer committed first.
	ErrVersionConflict = errors.New("ticket version conflict")
)

// TicketMutator edits a private copy of a ticket inside Update. Returning an error
// aborts the update and leaves the stored record untouched.
type TicketMutator func(ticket *domain.Ticket) error

// TicketStore persists tickets and the panel record durably.
type TicketStore interface {
	Create(ctx context.Context, ticket *domain.Ticket) (string, error)
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	// Update applies mutate atomically: concurrent updates of one id serialize and a
	// failure at any point leaves the previous record in place.
	Update(ctx context.Context, id string, mutate TicketMutator) (*domain.Ticket, error)
	ListOpen(ctx context.Context) ([]domain.Ticket, error)
	FindOpenByOwner(ctx context.Context, ownerID, categoryKey string) (*domain.Ticket, error)
	UpsertPanel(ctx context.Context, panel *domain.Panel) error
	GetPanel(ctx context.Context) (*domain.Panel, error)
	Ping(ctx context.Context) error
}

// TranscriptStore keeps the append-only message log and the materialized artifacts.
type TranscriptStore interface {
	Append(ctx context.Context, entry *domain.TranscriptEntry) error
	ListEntries(ctx context.Context, ticketID string) ([]domain.TranscriptEntry, error)
	// SaveArtifact stores the artifact unless one already exists; created reports
	// whether this call wrote it.
	SaveArtifact(ctx context.Context, artifact *domain.TranscriptArtifact) (created bool, err error)
	GetArtifact(ctx context.Context, ticketID string) (*domain.TranscriptArtifact, error)
	MarkArchived(ctx context.Context, ticketID string, at time.Time) error
	MarkOwnerDelivered(ctx context.Context, ticketID string, at time.Time) error
	// ListUnarchived returns closed tickets whose artifact is missing or was never
	// delivered to the archive.
	ListUnarchived(ctx context.Context) ([]string, error)
}

func prepareMutation(current *domain.Ticket, mutate TicketMutator) (*domain.Ticket, error) {
	if current.State == domain.TicketStateClosed {
		return nil, ErrTicketClosed
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	return next, nil
}
