package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/observability"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// LifecycleService drives tickets through CREATED, LOCKED, CLAIMED and CLOSED.
//
// Every transition follows the same order: take the ticket's lock, load the stored
// record, check the guard, persist, and only then touch the platform. A transition is
// done once the write commits; platform side effects are retried and then logged.
type LifecycleService struct {
	tickets      repository.TicketStore
	platform     platform.Platform
	auth         *Authorizer
	scheduler    *InactivityScheduler
	transcripts  *TranscriptRecorder
	panels       *PanelService
	dispatcher   events.Dispatcher
	metrics      *observability.Metrics
	ids          *snowflake.Node
	clock        clockwork.Clock
	retry        retrier
	storeTimeout time.Duration
	logger       *zap.Logger

	guildID         string
	channelPrefix   string
	duplicatePolicy config.DuplicatePolicy
	transferPolicy  config.TransferPolicy
	supporterRoles  []string

	locks *keyedMutex
}

// LifecycleDependencies bundles collaborators for the lifecycle service. The platform
// handle is passed in explicitly; nothing is looked up globally.
type LifecycleDependencies struct {
	Tickets     repository.TicketStore
	Platform    platform.Platform
	Authorizer  *Authorizer
	Scheduler   *InactivityScheduler
	Transcripts *TranscriptRecorder
	Panels      *PanelService
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	IDs         *snowflake.Node
	Clock       clockwork.Clock
	Logger      *zap.Logger

	GuildID          string
	SupporterRoleIDs []string
	Lifecycle        config.LifecycleConfig
	Delivery         config.DeliveryConfig
	StoreTimeout     time.Duration
}

// CreateTicketInput describes a category selection on the panel.
type CreateTicketInput struct {
	OwnerID     string
	CategoryKey string
}

// CreateTicketResult reports the ticket a selection resolved to.
type CreateTicketResult struct {
	Ticket *domain.Ticket
	// Reused is set when the duplicate policy handed back an existing open ticket.
	Reused bool
}

// IncomingMessage is a message observed in some channel.
type IncomingMessage struct {
	ChannelID   string
	MessageID   string
	AuthorID    string
	Content     string
	Attachments []string
	Timestamp   time.Time
}

// NewLifecycleService constructs the service and binds it as the scheduler's handler.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	s := &LifecycleService{
		tickets:         deps.Tickets,
		platform:        deps.Platform,
		auth:            deps.Authorizer,
		scheduler:       deps.Scheduler,
		transcripts:     deps.Transcripts,
		panels:          deps.Panels,
		dispatcher:      deps.Dispatcher,
		metrics:         deps.Metrics,
		ids:             deps.IDs,
		clock:           deps.Clock,
		retry:           retrier{attempts: deps.Delivery.MaxAttempts, delay: deps.Delivery.RetryDelay, logger: deps.Logger},
		storeTimeout:    deps.StoreTimeout,
		logger:          deps.Logger,
		guildID:         deps.GuildID,
		channelPrefix:   deps.Lifecycle.ChannelPrefix,
		duplicatePolicy: deps.Lifecycle.DuplicatePolicy,
		transferPolicy:  deps.Lifecycle.TransferPolicy,
		supporterRoles:  deps.SupporterRoleIDs,
		locks:           newKeyedMutex(),
	}
	if s.channelPrefix == "" {
		s.channelPrefix = "ticket"
	}
	if s.scheduler != nil {
		s.scheduler.Bind(s)
	}
	return s
}

// CreateTicket opens a ticket for a panel selection. The channel is created with the
// owner unable to post; if the record cannot be written the channel is removed again.
func (s *LifecycleService) CreateTicket(ctx context.Context, input CreateTicketInput) (*CreateTicketResult, error) {
	category, ok := s.panels.Category(input.CategoryKey)
	if !ok {
		return nil, s.reject("create", apperrors.NewValidationError("unknown ticket category", map[string]any{"category": input.CategoryKey}))
	}

	unlock := s.locks.Lock("owner:" + input.OwnerID + ":" + category.Key)
	defer unlock()

	existing, err := s.findOpen(ctx, input.OwnerID, category.Key)
	if err != nil {
		return nil, s.reject("create", err)
	}
	if existing != nil {
		if s.duplicatePolicy == config.DuplicateReuse {
			return &CreateTicketResult{Ticket: existing, Reused: true}, nil
		}
		return nil, s.reject("create", apperrors.NewConflict(
			fmt.Sprintf("you already have an open %s ticket in <#%s>", category.Label, existing.ChannelID),
			map[string]any{"ticket_id": existing.ID}))
	}

	now := s.clock.Now().UTC()
	ticket := &domain.Ticket{
		ID:             s.ids.Generate().String(),
		GuildID:        s.guildID,
		OwnerID:        input.OwnerID,
		CategoryKey:    category.Key,
		State:          domain.TicketStateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	channelID, err := s.platform.CreateTicketChannel(ctx, platform.ChannelRequest{
		GuildID:          s.guildID,
		ParentID:         category.TargetCategoryID,
		Name:             s.channelName(category.Key, ticket.ID),
		Topic:            fmt.Sprintf("%s ticket for <@%s>", category.Label, input.OwnerID),
		OwnerID:          input.OwnerID,
		SupporterRoleIDs: s.supporterRoles,
	})
	if err != nil {
		return nil, s.reject("create", apperrors.NewDeliveryError("ticket channel", err))
	}
	ticket.ChannelID = channelID
	ticket.State = domain.TicketStateLocked

	controlID, err := s.retry.post(ctx, s.platform, channelID, s.controlMessage(ticket))
	if err != nil {
		s.discardChannel(ctx, channelID)
		return nil, s.reject("create", apperrors.NewDeliveryError("control message", err))
	}
	ticket.ControlMessageID = controlID

	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	_, err = s.tickets.Create(storeCtx, ticket)
	cancel()
	if err != nil {
		s.discardChannel(ctx, channelID)
		return nil, s.reject("create", apperrors.NewPersistenceError(err))
	}

	s.arm(ticket)
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("channel_id", ticket.ChannelID),
		zap.String("owner_id", ticket.OwnerID),
		zap.String("category", ticket.CategoryKey))
	s.metrics.RecordTransition("create")
	s.publish(ctx, events.EventTicketCreated, ticket, domain.UserActor(input.OwnerID), events.TicketCreatedPayload{
		ChannelID:   ticket.ChannelID,
		OwnerID:     ticket.OwnerID,
		CategoryKey: ticket.CategoryKey,
	})
	return &CreateTicketResult{Ticket: ticket}, nil
}

// Claim assigns the ticket to actor and lets the owner post. Claiming a ticket held by
// someone else is only possible for the owner-override, and then acts as a transfer.
func (s *LifecycleService) Claim(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.load(ctx, ticketID, "claim")
	if err != nil {
		return nil, s.reject("claim", err)
	}
	if err := s.auth.RequirePrivileged(ctx, actor, "claim"); err != nil {
		return nil, s.reject("claim", err)
	}
	if actor.System {
		return nil, s.reject("claim", apperrors.NewAuthorizationError("the system cannot claim tickets"))
	}

	if current.State == domain.TicketStateClaimed {
		if current.Claimant() == actor.ID || !s.auth.IsOwnerOverride(actor) {
			return nil, s.reject("claim", apperrors.NewInvalidTransition("claim", string(current.State)))
		}
		return s.transferLocked(ctx, current, actor, actor.ID)
	}

	now := s.clock.Now().UTC()
	updated, err := s.update(ctx, ticketID, "claim", func(t *domain.Ticket) error {
		if t.State != domain.TicketStateLocked && t.State != domain.TicketStateCreated {
			return apperrors.NewInvalidTransition("claim", string(t.State))
		}
		claimant := actor.ID
		t.State = domain.TicketStateClaimed
		t.ClaimedBy = &claimant
		t.LastActivityAt = now
		t.WarnedAt = nil
		return nil
	})
	if err != nil {
		return nil, s.reject("claim", err)
	}

	s.arm(updated)
	_ = s.retry.do(ctx, "grant owner write", func() error {
		return s.platform.SetWritePermission(ctx, updated.ChannelID, updated.OwnerID, true)
	})
	s.notice(ctx, updated, fmt.Sprintf("<@%s> has claimed this ticket and will help you.", actor.ID))
	s.syncControls(ctx, updated)

	s.logTransition("claim", updated, actor)
	s.publish(ctx, events.EventTicketClaimed, updated, actor, events.TicketClaimPayload{SupporterID: actor.ID})
	return updated, nil
}

// Unclaim releases the ticket back to the queue and locks the owner out again.
func (s *LifecycleService) Unclaim(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.load(ctx, ticketID, "unclaim")
	if err != nil {
		return nil, s.reject("unclaim", err)
	}
	if current.State != domain.TicketStateClaimed {
		return nil, s.reject("unclaim", apperrors.NewInvalidTransition("unclaim", string(current.State)))
	}
	if current.Claimant() != actor.ID && !s.auth.IsOwnerOverride(actor) {
		return nil, s.reject("unclaim", apperrors.NewAuthorizationError("only the claiming supporter may unclaim this ticket"))
	}

	previous := current.Claimant()
	updated, err := s.update(ctx, ticketID, "unclaim", func(t *domain.Ticket) error {
		if t.State != domain.TicketStateClaimed {
			return apperrors.NewInvalidTransition("unclaim", string(t.State))
		}
		t.State = domain.TicketStateLocked
		t.ClaimedBy = nil
		return nil
	})
	if err != nil {
		return nil, s.reject("unclaim", err)
	}

	_ = s.retry.do(ctx, "revoke owner write", func() error {
		return s.platform.SetWritePermission(ctx, updated.ChannelID, updated.OwnerID, false)
	})
	s.notice(ctx, updated, "This ticket was released. No supporter is available yet; please wait.")
	s.syncControls(ctx, updated)

	s.logTransition("unclaim", updated, actor)
	s.publish(ctx, events.EventTicketUnclaimed, updated, actor, events.TicketClaimPayload{SupporterID: previous})
	return updated, nil
}

// Transfer hands a claimed ticket to another supporter. The state stays CLAIMED.
func (s *LifecycleService) Transfer(ctx context.Context, ticketID string, actor domain.Actor, targetID string) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.load(ctx, ticketID, "transfer")
	if err != nil {
		return nil, s.reject("transfer", err)
	}
	if !s.auth.IsOwnerOverride(actor) {
		allowed, err := s.auth.IsSupporter(ctx, actor.ID)
		if err != nil {
			return nil, s.reject("transfer", err)
		}
		if s.transferPolicy == config.TransferByClaimant {
			// The role is checked live as well: a claimant who lost it may not hand off.
			allowed = allowed && current.Claimant() != "" && current.Claimant() == actor.ID
		}
		if !allowed {
			return nil, s.reject("transfer", apperrors.NewAuthorizationError("you may not transfer this ticket"))
		}
	}
	if current.State != domain.TicketStateClaimed {
		return nil, s.reject("transfer", apperrors.NewInvalidTransition("transfer", string(current.State)))
	}
	return s.transferLocked(ctx, current, actor, targetID)
}

func (s *LifecycleService) transferLocked(ctx context.Context, current *domain.Ticket, actor domain.Actor, targetID string) (*domain.Ticket, error) {
	if targetID == "" || targetID == current.Claimant() {
		return nil, s.reject("transfer", apperrors.NewValidationError("the ticket is already held by that supporter", nil))
	}
	if !s.auth.IsOwnerOverride(domain.UserActor(targetID)) {
		supporter, err := s.auth.IsSupporter(ctx, targetID)
		if err != nil {
			return nil, s.reject("transfer", err)
		}
		if !supporter {
			return nil, s.reject("transfer", apperrors.NewValidationError("the target is not a supporter", map[string]any{"target_id": targetID}))
		}
	}

	from := current.Claimant()
	now := s.clock.Now().UTC()
	updated, err := s.update(ctx, current.ID, "transfer", func(t *domain.Ticket) error {
		if t.State != domain.TicketStateClaimed {
			return apperrors.NewInvalidTransition("transfer", string(t.State))
		}
		target := targetID
		t.TransferHistory = append(t.TransferHistory, domain.Transfer{From: from, To: target, At: now})
		t.ClaimedBy = &target
		return nil
	})
	if err != nil {
		return nil, s.reject("transfer", err)
	}

	s.notice(ctx, updated, fmt.Sprintf("<@%s> transferred this ticket to <@%s>.", actor.ID, targetID))
	s.logTransition("transfer", updated, actor)
	s.publish(ctx, events.EventTicketTransferred, updated, actor, events.TicketTransferredPayload{From: from, To: targetID})
	return updated, nil
}

// Close ends the ticket. The owner can never close directly; supporters, the
// owner-override and the system can.
func (s *LifecycleService) Close(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	return s.close(ctx, ticketID, actor, domain.CloseReasonManual)
}

func (s *LifecycleService) close(ctx context.Context, ticketID string, actor domain.Actor, reason domain.CloseReason) (*domain.Ticket, error) {
	unlock := s.locks.Lock(ticketID)
	current, err := s.load(ctx, ticketID, "close")
	if err != nil {
		unlock()
		return nil, s.reject("close", err)
	}
	if err := s.auth.RequirePrivileged(ctx, actor, "close"); err != nil {
		unlock()
		return nil, s.reject("close", err)
	}
	if reason == domain.CloseReasonInactivity && s.clock.Now().Before(s.scheduler.CloseDue(current.LastActivityAt)) {
		// Activity arrived after the timer fired.
		s.arm(current)
		unlock()
		return nil, nil
	}

	claimant := current.Claimant()
	s.scheduler.Cancel(ticketID)
	now := s.clock.Now().UTC()
	updated, err := s.update(ctx, ticketID, "close", func(t *domain.Ticket) error {
		t.State = domain.TicketStateClosed
		t.ClaimedBy = nil
		t.ClosedClaimant = claimant
		t.ClosedAt = &now
		t.ClosedBy = actor.ID
		t.CloseReason = reason
		return nil
	})
	if err != nil {
		// The ticket is still open; give it its timer back.
		s.arm(current)
		unlock()
		return nil, s.reject("close", err)
	}

	_ = s.retry.do(ctx, "revoke owner write", func() error {
		return s.platform.SetWritePermission(ctx, updated.ChannelID, updated.OwnerID, false)
	})
	s.syncControls(ctx, updated)
	s.notice(ctx, updated, closeNotice(actor, reason))
	s.logTransition("close", updated, actor)
	unlock()

	// Messages are no longer recorded once CLOSED is stored, so the log is complete.
	if _, err := s.transcripts.Finalize(ctx, updated, claimant); err != nil {
		s.logger.Warn("transcript finalization incomplete; will resume on restart",
			zap.String("ticket_id", updated.ID), zap.Error(err))
	}
	s.publish(ctx, events.EventTicketClosed, updated, actor, events.TicketClosedPayload{Reason: reason, ClosedBy: actor.ID})
	return updated, nil
}

// RecordMessage logs a message seen in a ticket channel. An owner message on a claimed
// ticket counts as activity and restarts the inactivity timer. Messages outside ticket
// channels are ignored.
func (s *LifecycleService) RecordMessage(ctx context.Context, msg IncomingMessage) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	located, err := s.tickets.GetByChannel(storeCtx, msg.ChannelID)
	cancel()
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	unlock := s.locks.Lock(located.ID)
	defer unlock()

	ticket, err := s.load(ctx, located.ID, "record")
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			return nil
		}
		return err
	}

	at := msg.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	entry := &domain.TranscriptEntry{
		TicketID:    ticket.ID,
		MessageID:   msg.MessageID,
		AuthorID:    msg.AuthorID,
		Timestamp:   at.UTC(),
		Content:     msg.Content,
		Attachments: msg.Attachments,
	}
	if err := s.transcripts.Record(ctx, entry); err != nil {
		return err
	}

	if msg.AuthorID != ticket.OwnerID || ticket.State != domain.TicketStateClaimed {
		return nil
	}
	now := s.clock.Now().UTC()
	updated, err := s.update(ctx, ticket.ID, "activity", func(t *domain.Ticket) error {
		t.LastActivityAt = now
		t.WarnedAt = nil
		return nil
	})
	if err != nil {
		return err
	}
	s.arm(updated)
	return nil
}

// WarnInactive posts the inactivity warning if the stored ticket is still idle past
// the warn delay. Otherwise it re-arms from the stored markers.
func (s *LifecycleService) WarnInactive(ctx context.Context, ticketID string) error {
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	current, err := s.load(ctx, ticketID, "warn")
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInvalidTransition) || apperrors.HasCode(err, apperrors.CodeNotFound) {
			return nil
		}
		return err
	}
	now := s.clock.Now().UTC()
	if current.WarnedAt != nil || now.Before(s.scheduler.WarnDue(current.LastActivityAt)) {
		s.arm(current)
		return nil
	}

	updated, err := s.update(ctx, ticketID, "warn", func(t *domain.Ticket) error {
		warnedAt := now
		t.WarnedAt = &warnedAt
		return nil
	})
	if err != nil {
		return err
	}

	closeAt := s.scheduler.CloseDue(updated.LastActivityAt)
	s.notice(ctx, updated, warningText(now, closeAt))
	s.arm(updated)

	s.logger.Info("inactivity warning posted", zap.String("ticket_id", ticketID), zap.Time("close_at", closeAt))
	s.metrics.RecordTransition("warn")
	s.publish(ctx, events.EventTicketWarned, updated, domain.SystemActor(), events.TicketWarnedPayload{CloseAt: closeAt})
	return nil
}

// CloseInactive closes the ticket as the system once its inactivity budget is spent.
// A ticket that saw activity in the meantime is re-armed instead.
func (s *LifecycleService) CloseInactive(ctx context.Context, ticketID string) error {
	_, err := s.close(ctx, ticketID, domain.SystemActor(), domain.CloseReasonInactivity)
	if apperrors.HasCode(err, apperrors.CodeInvalidTransition) || apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil
	}
	return err
}

// Recover rebuilds in-memory state after a restart: timers are re-armed from the
// stored activity markers, control messages are brought in line with the stored state,
// and unfinished transcripts are delivered.
func (s *LifecycleService) Recover(ctx context.Context) error {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	open, err := s.tickets.ListOpen(storeCtx)
	cancel()
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	for i := range open {
		ticket := &open[i]
		unlock := s.locks.Lock(ticket.ID)
		s.syncControls(ctx, ticket)
		s.arm(ticket)
		unlock()
	}
	s.logger.Info("lifecycle recovered", zap.Int("open_tickets", len(open)))

	if err := s.transcripts.ResumePending(ctx); err != nil {
		s.logger.Warn("some transcripts are still pending", zap.Error(err))
	}
	return nil
}

// TicketByChannel resolves the ticket that owns a channel.
func (s *LifecycleService) TicketByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	ticket, err := s.tickets.GetByChannel(storeCtx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return ticket, nil
}

// Ticket loads a ticket by id.
func (s *LifecycleService) Ticket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	ticket, err := s.tickets.Get(storeCtx, ticketID)
	if err != nil {
		return nil, mapStoreError(err, "view")
	}
	return ticket, nil
}

// OpenTickets lists every ticket that is not closed.
func (s *LifecycleService) OpenTickets(ctx context.Context) ([]domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	tickets, err := s.tickets.ListOpen(storeCtx)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return tickets, nil
}

// load fetches the current record and rejects closed tickets.
func (s *LifecycleService) load(ctx context.Context, ticketID, action string) (*domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	ticket, err := s.tickets.Get(storeCtx, ticketID)
	if err != nil {
		return nil, mapStoreError(err, action)
	}
	if ticket.State == domain.TicketStateClosed {
		return nil, apperrors.NewInvalidTransition(action, string(ticket.State))
	}
	return ticket, nil
}

func (s *LifecycleService) update(ctx context.Context, ticketID, action string, mutate repository.TicketMutator) (*domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	updated, err := s.tickets.Update(storeCtx, ticketID, mutate)
	if err != nil {
		return nil, mapStoreError(err, action)
	}
	if !updated.CheckInvariants() {
		s.logger.Error("ticket invariants violated after transition",
			zap.String("ticket_id", updated.ID), zap.String("state", string(updated.State)))
	}
	return updated, nil
}

func (s *LifecycleService) findOpen(ctx context.Context, ownerID, categoryKey string) (*domain.Ticket, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	ticket, err := s.tickets.FindOpenByOwner(storeCtx, ownerID, categoryKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return ticket, nil
}

func (s *LifecycleService) arm(ticket *domain.Ticket) {
	if ticket.State.IsOpen() {
		s.scheduler.Arm(ticket.ID, ticket.LastActivityAt, ticket.WarnedAt)
	}
}

func (s *LifecycleService) controlMessage(ticket *domain.Ticket) platform.Message {
	var text string
	switch ticket.State {
	case domain.TicketStateClaimed:
		text = fmt.Sprintf("<@%s>, your ticket is being handled by <@%s>.", ticket.OwnerID, ticket.Claimant())
	case domain.TicketStateClosed:
		text = fmt.Sprintf("This ticket is closed. Transcript id: %s.", ticket.ID)
	default:
		text = fmt.Sprintf("<@%s>, thanks for reaching out. No supporter is available yet; one will claim this ticket soon.", ticket.OwnerID)
	}
	return platform.Message{Content: text, Controls: ticket.Controls()}
}

// syncControls makes the control message match the stored state, reposting it when
// the original message was deleted.
func (s *LifecycleService) syncControls(ctx context.Context, ticket *domain.Ticket) {
	msg := s.controlMessage(ticket)
	if ticket.ControlMessageID != "" {
		err := s.retry.do(ctx, "edit controls", func() error {
			return s.platform.EditMessage(ctx, ticket.ChannelID, ticket.ControlMessageID, msg)
		})
		if err == nil || !platform.IsNotFound(err) {
			return
		}
	}
	if !ticket.State.IsOpen() {
		return
	}

	messageID, err := s.retry.post(ctx, s.platform, ticket.ChannelID, msg)
	if err != nil {
		return
	}
	updated, err := s.update(ctx, ticket.ID, "controls", func(t *domain.Ticket) error {
		t.ControlMessageID = messageID
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to store reposted control message", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	ticket.ControlMessageID = updated.ControlMessageID
	ticket.Version = updated.Version
}

func (s *LifecycleService) notice(ctx context.Context, ticket *domain.Ticket, text string) {
	_, _ = s.retry.post(ctx, s.platform, ticket.ChannelID, platform.Message{Content: text})
}

func (s *LifecycleService) discardChannel(ctx context.Context, channelID string) {
	if err := s.retry.do(ctx, "delete channel", func() error {
		return s.platform.DeleteChannel(ctx, channelID)
	}); err != nil && !platform.IsNotFound(err) {
		s.logger.Error("orphaned ticket channel", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *LifecycleService) channelName(categoryKey, ticketID string) string {
	suffix := ticketID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", s.channelPrefix, categoryKey, suffix))
}

func (s *LifecycleService) reject(action string, err error) error {
	code := apperrors.ToDomainError(err).Code
	s.metrics.RecordRejection(action, code)
	if code == apperrors.CodePersistence || code == apperrors.CodeInternal {
		s.logger.Error("transition failed", zap.String("action", action), zap.Error(err))
	} else {
		s.logger.Info("transition rejected", zap.String("action", action), zap.String("code", code), zap.Error(err))
	}
	return err
}

func (s *LifecycleService) logTransition(action string, ticket *domain.Ticket, actor domain.Actor) {
	s.metrics.RecordTransition(action)
	s.logger.Info("ticket transition",
		zap.String("action", action),
		zap.String("ticket_id", ticket.ID),
		zap.String("actor_id", actor.ID),
		zap.String("state", string(ticket.State)))
}

func (s *LifecycleService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, actor domain.Actor, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.New(eventType, ticket.ID, actor, s.clock.Now(), payload)
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func mapStoreError(err error, action string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", nil)
	case errors.Is(err, repository.ErrTicketClosed):
		return apperrors.NewInvalidTransition(action, string(domain.TicketStateClosed))
	case apperrors.HasCode(err, apperrors.CodeInvalidTransition):
		return err
	default:
		return apperrors.NewPersistenceError(err)
	}
}

// warningText embeds a platform-rendered relative timestamp next to a plain one for
// clients that do not render it.
func warningText(now, closeAt time.Time) string {
	return fmt.Sprintf("This ticket has been inactive and will close automatically <t:%d:R> (%s) unless someone replies.",
		closeAt.Unix(), humanize.RelTime(closeAt, now, "ago", "from now"))
}

func closeNotice(actor domain.Actor, reason domain.CloseReason) string {
	if reason == domain.CloseReasonInactivity {
		return "This ticket was closed automatically after a period of inactivity."
	}
	return fmt.Sprintf("This ticket was closed by <@%s>.", actor.ID)
}
