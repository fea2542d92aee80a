package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// TranscriptRecorder keeps the per-ticket message log and turns it into an immutable
// artifact when the ticket closes.
type TranscriptRecorder struct {
	transcripts      repository.TranscriptStore
	tickets          repository.TicketStore
	platform         platform.Platform
	archiveChannelID string
	clock            clockwork.Clock
	retry            retrier
	storeTimeout     time.Duration
	logger           *zap.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// TranscriptDependencies bundles collaborators for the recorder.
type TranscriptDependencies struct {
	Transcripts      repository.TranscriptStore
	Tickets          repository.TicketStore
	Platform         platform.Platform
	ArchiveChannelID string
	Clock            clockwork.Clock
	MaxAttempts      int
	RetryDelay       time.Duration
	StoreTimeout     time.Duration
	Logger           *zap.Logger
}

// NewTranscriptRecorder constructs the recorder.
func NewTranscriptRecorder(deps TranscriptDependencies) (*TranscriptRecorder, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &TranscriptRecorder{
		transcripts:      deps.Transcripts,
		tickets:          deps.Tickets,
		platform:         deps.Platform,
		archiveChannelID: deps.ArchiveChannelID,
		clock:            deps.Clock,
		retry:            retrier{attempts: deps.MaxAttempts, delay: deps.RetryDelay, logger: deps.Logger},
		storeTimeout:     deps.StoreTimeout,
		logger:           deps.Logger,
		encoder:          encoder,
		decoder:          decoder,
	}, nil
}

// Record appends one observed message to the ticket's log.
func (r *TranscriptRecorder) Record(ctx context.Context, entry *domain.TranscriptEntry) error {
	ctx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.transcripts.Append(ctx, entry); err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

// Finalize materializes the closed ticket's log once and delivers it to the archive
// channel and, best effort, to the owner. claimant is the supporter who held the
// ticket when it closed, if any.
func (r *TranscriptRecorder) Finalize(ctx context.Context, ticket *domain.Ticket, claimant string) (*domain.TranscriptArtifact, error) {
	if ticket.State != domain.TicketStateClosed {
		return nil, apperrors.NewInvalidTransition("finalize the transcript of", string(ticket.State))
	}
	artifact, err := r.materialize(ctx, ticket, claimant)
	if err != nil {
		return nil, err
	}

	text, err := r.Render(artifact)
	if err != nil {
		return artifact, err
	}
	file := platform.File{
		Name:        fmt.Sprintf("transcript-%s.txt", ticket.ID),
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte(text),
	}

	if artifact.OwnerDeliveredAt == nil {
		r.deliverToOwner(ctx, ticket, file)
	}
	if artifact.ArchivedAt == nil {
		if err := r.archive(ctx, ticket, file); err != nil {
			return artifact, err
		}
	}
	return artifact, nil
}

// Artifact returns the stored artifact of a closed ticket.
func (r *TranscriptRecorder) Artifact(ctx context.Context, ticketID string) (*domain.TranscriptArtifact, error) {
	ctx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	defer cancel()
	artifact, err := r.transcripts.GetArtifact(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("transcript", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return artifact, nil
}

// Decode unpacks an artifact into its document.
func (r *TranscriptRecorder) Decode(artifact *domain.TranscriptArtifact) (*domain.TranscriptDocument, error) {
	if artifact.Format != domain.TranscriptFormatJSONZstd {
		return nil, fmt.Errorf("unsupported transcript format %q", artifact.Format)
	}
	raw, err := r.decoder.DecodeAll(artifact.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress transcript: %w", err)
	}
	var doc domain.TranscriptDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &doc, nil
}

// Render formats an artifact as plain text, one line per message.
func (r *TranscriptRecorder) Render(artifact *domain.TranscriptArtifact) (string, error) {
	doc, err := r.Decode(artifact)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s (%s)\n", doc.TicketID, doc.CategoryKey)
	fmt.Fprintf(&b, "Owner: %s\n", doc.OwnerID)
	if doc.ClaimedBy != "" {
		fmt.Fprintf(&b, "Claimed by: %s\n", doc.ClaimedBy)
	}
	for _, t := range doc.Transfers {
		fmt.Fprintf(&b, "Transferred %s -> %s at %s\n", t.From, t.To, t.At.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Opened: %s\n", doc.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Closed: %s by %s (%s)\n\n", doc.ClosedAt.Format(time.RFC3339), doc.ClosedBy, doc.CloseReason)
	for _, entry := range doc.Entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", entry.Timestamp.Format(time.RFC3339), entry.AuthorID, entry.Content)
		for _, url := range entry.Attachments {
			fmt.Fprintf(&b, "    attachment: %s\n", url)
		}
	}
	return b.String(), nil
}

// ResumePending finishes finalization for closed tickets whose artifact was never
// written or never reached the archive, e.g. after a crash mid-close.
func (r *TranscriptRecorder) ResumePending(ctx context.Context) error {
	listCtx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	ids, err := r.transcripts.ListUnarchived(listCtx)
	cancel()
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	var errs []error
	for _, id := range ids {
		getCtx, cancel := withStoreTimeout(ctx, r.storeTimeout)
		ticket, err := r.tickets.Get(getCtx, id)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("load ticket %s: %w", id, err))
			continue
		}
		if _, err := r.Finalize(ctx, ticket, ticket.ClosedClaimant); err != nil {
			errs = append(errs, fmt.Errorf("finalize ticket %s: %w", id, err))
		}
	}
	if len(ids) > 0 {
		r.logger.Info("resumed pending transcripts", zap.Int("count", len(ids)), zap.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

func (r *TranscriptRecorder) materialize(ctx context.Context, ticket *domain.Ticket, claimant string) (*domain.TranscriptArtifact, error) {
	ctx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	defer cancel()

	existing, err := r.transcripts.GetArtifact(ctx, ticket.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewPersistenceError(err)
	}

	entries, err := r.transcripts.ListEntries(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	doc := domain.TranscriptDocument{
		TicketID:    ticket.ID,
		ChannelID:   ticket.ChannelID,
		OwnerID:     ticket.OwnerID,
		CategoryKey: ticket.CategoryKey,
		ClaimedBy:   claimant,
		Transfers:   ticket.TransferHistory,
		CreatedAt:   ticket.CreatedAt,
		ClosedBy:    ticket.ClosedBy,
		CloseReason: ticket.CloseReason,
		Entries:     entries,
	}
	if ticket.ClosedAt != nil {
		doc.ClosedAt = *ticket.ClosedAt
	}
	if doc.Entries == nil {
		doc.Entries = []domain.TranscriptEntry{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	artifact := &domain.TranscriptArtifact{
		TicketID:   ticket.ID,
		Format:     domain.TranscriptFormatJSONZstd,
		Data:       r.encoder.EncodeAll(raw, nil),
		EntryCount: len(entries),
		CreatedAt:  r.clock.Now().UTC(),
	}
	created, err := r.transcripts.SaveArtifact(ctx, artifact)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	if !created {
		// A concurrent finalizer won; its artifact is the one that counts.
		if artifact, err = r.transcripts.GetArtifact(ctx, ticket.ID); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
	}
	r.logger.Info("transcript materialized",
		zap.String("ticket_id", ticket.ID),
		zap.Int("entries", artifact.EntryCount),
		zap.Int("bytes", len(artifact.Data)))
	return artifact, nil
}

func (r *TranscriptRecorder) archive(ctx context.Context, ticket *domain.Ticket, file platform.File) error {
	if r.archiveChannelID != "" {
		content := fmt.Sprintf("Transcript of ticket %s (<@%s>, %s)", ticket.ID, ticket.OwnerID, ticket.CategoryKey)
		if err := r.retry.do(ctx, "archive transcript", func() error {
			return r.platform.SendFile(ctx, r.archiveChannelID, content, file)
		}); err != nil {
			return apperrors.NewDeliveryError("archive", err)
		}
	} else {
		r.logger.Warn("no archive channel configured; transcript kept in store only", zap.String("ticket_id", ticket.ID))
	}

	storeCtx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.transcripts.MarkArchived(storeCtx, ticket.ID, r.clock.Now().UTC()); err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

// deliverToOwner is best effort: failures are logged and never surface.
func (r *TranscriptRecorder) deliverToOwner(ctx context.Context, ticket *domain.Ticket, file platform.File) {
	content := fmt.Sprintf("Your ticket %s was closed. A transcript is attached.", ticket.ID)
	if err := r.retry.do(ctx, "deliver transcript to owner", func() error {
		return r.platform.SendDirect(ctx, ticket.OwnerID, content, &file)
	}); err != nil {
		r.logger.Info("owner transcript delivery failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("owner_id", ticket.OwnerID),
			zap.Error(apperrors.NewDeliveryError("owner", err)))
		return
	}

	storeCtx, cancel := withStoreTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.transcripts.MarkOwnerDelivered(storeCtx, ticket.ID, r.clock.Now().UTC()); err != nil {
		r.logger.Warn("failed to mark owner delivery", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
