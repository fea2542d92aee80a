package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/config"
	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/observability"
	"github.com/spec-kit/ticket-bot/internal/persistence"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
)

const (
	supportRole   = "role-support"
	ownerID       = "100000000000000001"
	supporterA    = "200000000000000002"
	supporterB    = "300000000000000003"
	bystander     = "400000000000000004"
	overrideID    = "900000000000000009"
	archiveChan   = "archive-channel"
	panelChan     = "panel-channel"
	testGuildID   = "guild-1"
	warnAfter     = 24 * time.Hour
	closeAfter    = 12 * time.Hour
	eventuallyFor = 2 * time.Second
)

type postedMessage struct {
	ChannelID string
	MessageID string
	Message   platform.Message
}

type sentFile struct {
	ChannelID string
	Content   string
	File      platform.File
}

// fakePlatform records every call. Function fields override individual operations.
type fakePlatform struct {
	mu sync.Mutex

	roles       map[string][]string
	channels    map[string]platform.ChannelRequest
	deleted     []string
	canWrite    map[string]map[string]bool
	posts       []postedMessage
	messages    map[string]platform.Message
	files       []sentFile
	directs     []sentFile
	roleLookups int
	seq         int

	CreateChannelFn func(req platform.ChannelRequest) (string, error)
	PostFn          func(channelID string, msg platform.Message) error
	EditFn          func(channelID, messageID string) error
	SendFileFn      func(channelID string) error
	SendDirectFn    func(userID string) error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		roles: map[string][]string{
			supporterA: {supportRole},
			supporterB: {"role-other", supportRole},
			ownerID:    {"role-member"},
		},
		channels: make(map[string]platform.ChannelRequest),
		canWrite: make(map[string]map[string]bool),
		messages: make(map[string]platform.Message),
	}
}

func (f *fakePlatform) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakePlatform) CreateTicketChannel(_ context.Context, req platform.ChannelRequest) (string, error) {
	if f.CreateChannelFn != nil {
		if id, err := f.CreateChannelFn(req); err != nil || id != "" {
			return id, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("channel")
	f.channels[id] = req
	f.canWrite[id] = map[string]bool{req.OwnerID: false}
	return id, nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelID)
	delete(f.channels, channelID)
	return nil
}

func (f *fakePlatform) SetWritePermission(_ context.Context, channelID, userID string, allow bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canWrite[channelID] == nil {
		f.canWrite[channelID] = map[string]bool{}
	}
	f.canWrite[channelID][userID] = allow
	return nil
}

func (f *fakePlatform) PostMessage(_ context.Context, channelID string, msg platform.Message) (string, error) {
	if f.PostFn != nil {
		if err := f.PostFn(channelID, msg); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("message")
	f.posts = append(f.posts, postedMessage{ChannelID: channelID, MessageID: id, Message: msg})
	f.messages[id] = msg
	return id, nil
}

func (f *fakePlatform) EditMessage(_ context.Context, channelID, messageID string, msg platform.Message) error {
	if f.EditFn != nil {
		if err := f.EditFn(channelID, messageID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return fmt.Errorf("edit %s: %w", messageID, platform.ErrNotFound)
	}
	f.messages[messageID] = msg
	return nil
}

func (f *fakePlatform) SendFile(_ context.Context, channelID, content string, file platform.File) error {
	if f.SendFileFn != nil {
		if err := f.SendFileFn(channelID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, sentFile{ChannelID: channelID, Content: content, File: file})
	return nil
}

func (f *fakePlatform) SendDirect(_ context.Context, userID, content string, file *platform.File) error {
	if f.SendDirectFn != nil {
		if err := f.SendDirectFn(userID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := sentFile{ChannelID: userID, Content: content}
	if file != nil {
		sent.File = *file
	}
	f.directs = append(f.directs, sent)
	return nil
}

func (f *fakePlatform) MemberRoles(_ context.Context, _, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleLookups++
	roles, ok := f.roles[userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return append([]string(nil), roles...), nil
}

func (f *fakePlatform) setRoles(userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = roles
}

func (f *fakePlatform) ownerCanWrite(channelID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canWrite[channelID][userID]
}

func (f *fakePlatform) message(messageID string) platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[messageID]
}

func (f *fakePlatform) forget(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, messageID)
}

func (f *fakePlatform) postsIn(channelID string) []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []postedMessage
	for _, p := range f.posts {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePlatform) postsContaining(channelID, text string) []postedMessage {
	var out []postedMessage
	for _, p := range f.postsIn(channelID) {
		if strings.Contains(p.Message.Content, text) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePlatform) archived() []sentFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFile(nil), f.files...)
}

func (f *fakePlatform) dms() []sentFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFile(nil), f.directs...)
}

func (f *fakePlatform) deletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// failingTicketStore lets a spec break individual store calls.
type failingTicketStore struct {
	repository.TicketStore
	createErr error
	updateErr error
}

func (s *failingTicketStore) Create(ctx context.Context, ticket *domain.Ticket) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.TicketStore.Create(ctx, ticket)
}

func (s *failingTicketStore) Update(ctx context.Context, id string, mutate repository.TicketMutator) (*domain.Ticket, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.TicketStore.Update(ctx, id, mutate)
}

// failingTranscriptStore refuses to write artifacts while saveErr is set.
type failingTranscriptStore struct {
	repository.TranscriptStore
	saveErr error
}

func (s *failingTranscriptStore) SaveArtifact(ctx context.Context, artifact *domain.TranscriptArtifact) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	return s.TranscriptStore.SaveArtifact(ctx, artifact)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harnessOptions struct {
	dbPath          string
	start           time.Time
	duplicatePolicy config.DuplicatePolicy
	transferPolicy  config.TransferPolicy
	platform        *fakePlatform
	wrapStore       func(repository.TicketStore) repository.TicketStore
	wrapTranscripts func(repository.TranscriptStore) repository.TranscriptStore
}

type harness struct {
	ctx         context.Context
	clock       *clockwork.FakeClock
	platform    *fakePlatform
	db          *persistence.SQLite
	tickets     repository.TicketStore
	transcripts repository.TranscriptStore
	scheduler   *InactivityScheduler
	recorder    *TranscriptRecorder
	panels      *PanelService
	lifecycle   *LifecycleService
	events      *recordedEvents
	metrics     *observability.Metrics
}

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func bg() context.Context { return context.Background() }

func testPanel() config.PanelFile {
	return config.PanelFile{
		Title: "Support",
		Categories: []domain.PanelCategory{
			{Key: "general", Label: "General", TargetCategoryID: "parent-general"},
			{Key: "billing", Label: "Billing", Emoji: "💳", TargetCategoryID: "parent-billing"},
		},
	}
}

func newHarness(opts harnessOptions) *harness {
	if opts.dbPath == "" {
		opts.dbPath = filepath.Join(GinkgoT().TempDir(), "tickets.db")
	}
	if opts.start.IsZero() {
		opts.start = testStart
	}
	if opts.duplicatePolicy == "" {
		opts.duplicatePolicy = config.DuplicateReject
	}
	if opts.transferPolicy == "" {
		opts.transferPolicy = config.TransferByAnySupporter
	}
	if opts.platform == nil {
		opts.platform = newFakePlatform()
	}

	h := &harness{
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClockAt(opts.start),
		platform: opts.platform,
		events:   &recordedEvents{},
		metrics:  observability.NewMetrics(),
	}
	logger := zap.NewNop()

	db, err := persistence.NewSQLite(h.ctx, opts.dbPath, logger)
	Expect(err).NotTo(HaveOccurred())
	h.db = db
	h.tickets = repository.NewSQLiteTicketStore(db.DB)
	if opts.wrapStore != nil {
		h.tickets = opts.wrapStore(h.tickets)
	}
	h.transcripts = repository.NewSQLiteTranscriptStore(db.DB)
	if opts.wrapTranscripts != nil {
		h.transcripts = opts.wrapTranscripts(h.transcripts)
	}

	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, h.events.handle)
	}

	h.scheduler = NewInactivityScheduler(h.clock, warnAfter, closeAfter, logger)
	h.recorder, err = NewTranscriptRecorder(TranscriptDependencies{
		Transcripts:      h.transcripts,
		Tickets:          h.tickets,
		Platform:         h.platform,
		ArchiveChannelID: archiveChan,
		Clock:            h.clock,
		MaxAttempts:      2,
		RetryDelay:       time.Millisecond,
		Logger:           logger,
	})
	Expect(err).NotTo(HaveOccurred())
	h.panels = NewPanelService(PanelDependencies{
		Tickets:     h.tickets,
		Platform:    h.platform,
		Dispatcher:  dispatcher,
		Clock:       h.clock,
		ChannelID:   panelChan,
		Panel:       testPanel(),
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
		Logger:      logger,
	})

	ids, err := snowflake.NewNode(1)
	Expect(err).NotTo(HaveOccurred())
	h.lifecycle = NewLifecycleService(LifecycleDependencies{
		Tickets:          h.tickets,
		Platform:         h.platform,
		Authorizer:       NewAuthorizer(h.platform, testGuildID, []string{supportRole}, overrideID),
		Scheduler:        h.scheduler,
		Transcripts:      h.recorder,
		Panels:           h.panels,
		Dispatcher:       dispatcher,
		Metrics:          h.metrics,
		IDs:              ids,
		Clock:            h.clock,
		Logger:           logger,
		GuildID:          testGuildID,
		SupporterRoleIDs: []string{supportRole},
		Lifecycle: config.LifecycleConfig{
			DuplicatePolicy: opts.duplicatePolicy,
			TransferPolicy:  opts.transferPolicy,
			ChannelPrefix:   "ticket",
		},
		Delivery: config.DeliveryConfig{MaxAttempts: 2, RetryDelay: time.Millisecond},
	})

	DeferCleanup(h.shutdown)
	return h
}

// shutdown is idempotent so restart specs can stop the first process early.
func (h *harness) shutdown() {
	h.scheduler.Stop()
	h.db.Close()
}

func (h *harness) stored(id string) *domain.Ticket {
	ticket, err := h.tickets.Get(h.ctx, id)
	Expect(err).NotTo(HaveOccurred())
	Expect(ticket.CheckInvariants()).To(BeTrue())
	return ticket
}

func (h *harness) open(owner, category string) *domain.Ticket {
	result, err := h.lifecycle.CreateTicket(h.ctx, CreateTicketInput{OwnerID: owner, CategoryKey: category})
	Expect(err).NotTo(HaveOccurred())
	return result.Ticket
}

func (h *harness) pendingPhase(id string) func() InactivityPhase {
	return func() InactivityPhase {
		phase, _, _ := h.scheduler.Pending(id)
		return phase
	}
}

func (h *harness) state(id string) func() domain.TicketState {
	return func() domain.TicketState {
		ticket, err := h.tickets.Get(h.ctx, id)
		if err != nil {
			return ""
		}
		return ticket.State
	}
}
