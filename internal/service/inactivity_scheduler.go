package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// inactivityRetryAfter delays another attempt after a callback failed.
const inactivityRetryAfter = time.Minute

// InactivityPhase names the step a pending timer will perform.
type InactivityPhase string

const (
	PhaseWarn  InactivityPhase = "warn"
	PhaseClose InactivityPhase = "close"
)

// InactivityHandler performs the work of a fired timer. Handlers re-check the stored
// ticket, so a late or duplicate fire is harmless.
type InactivityHandler interface {
	WarnInactive(ctx context.Context, ticketID string) error
	CloseInactive(ctx context.Context, ticketID string) error
}

// InactivityScheduler keeps at most one pending timer per ticket. Re-arming cancels the
// previous handle and bumps the ticket's generation so an already-queued callback for
// the old handle becomes a no-op.
type InactivityScheduler struct {
	clock      clockwork.Clock
	warnAfter  time.Duration
	closeAfter time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	handler InactivityHandler
	timers  map[string]*inactivityTimer
	gen     uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type inactivityTimer struct {
	gen   uint64
	phase InactivityPhase
	due   time.Time
	timer clockwork.Timer
}

// NewInactivityScheduler builds a scheduler for warn delay warnAfter and grace closeAfter.
func NewInactivityScheduler(clock clockwork.Clock, warnAfter, closeAfter time.Duration, logger *zap.Logger) *InactivityScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &InactivityScheduler{
		clock:      clock,
		warnAfter:  warnAfter,
		closeAfter: closeAfter,
		logger:     logger,
		timers:     make(map[string]*inactivityTimer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Bind attaches the handler invoked when timers fire.
func (s *InactivityScheduler) Bind(handler InactivityHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// WarnDue is when a ticket with the given last activity should be warned.
func (s *InactivityScheduler) WarnDue(lastActivityAt time.Time) time.Time {
	return lastActivityAt.Add(s.warnAfter)
}

// CloseDue is when a ticket with the given last activity should be closed. The
// budget is measured from last activity so downtime never extends it.
func (s *InactivityScheduler) CloseDue(lastActivityAt time.Time) time.Time {
	return lastActivityAt.Add(s.warnAfter + s.closeAfter)
}

// Arm (re)schedules the ticket's timer from its stored activity markers. Phases already
// overdue fire immediately.
func (s *InactivityScheduler) Arm(ticketID string, lastActivityAt time.Time, warnedAt *time.Time) {
	now := s.clock.Now()
	phase, due := PhaseWarn, s.WarnDue(lastActivityAt)
	if warnedAt != nil || !now.Before(s.CloseDue(lastActivityAt)) {
		phase, due = PhaseClose, s.CloseDue(lastActivityAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancelLocked(ticketID)
	s.gen++
	entry := &inactivityTimer{gen: s.gen, phase: phase, due: due}
	s.timers[ticketID] = entry

	s.scheduleLocked(ticketID, entry, due.Sub(now))
	s.logger.Debug("inactivity timer armed",
		zap.String("ticket_id", ticketID),
		zap.String("phase", string(phase)),
		zap.Time("due", due))
}

// Cancel drops the ticket's pending timer, if any.
func (s *InactivityScheduler) Cancel(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(ticketID)
}

// Pending reports the ticket's pending phase and due time.
func (s *InactivityScheduler) Pending(ticketID string) (InactivityPhase, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[ticketID]
	if !ok {
		return "", time.Time{}, false
	}
	return entry.phase, entry.due, true
}

// Stop cancels every timer and waits for running callbacks to return.
func (s *InactivityScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.timers {
		s.cancelLocked(id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *InactivityScheduler) cancelLocked(ticketID string) {
	entry, ok := s.timers[ticketID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.timers, ticketID)
}

func (s *InactivityScheduler) scheduleLocked(ticketID string, entry *inactivityTimer, delay time.Duration) {
	gen, phase := entry.gen, entry.phase
	if delay <= 0 {
		s.spawnLocked(ticketID, gen, phase)
		return
	}
	entry.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped {
			s.spawnLocked(ticketID, gen, phase)
		}
	})
}

// spawnLocked runs the callback on its own goroutine so it never executes under s.mu
// or on the clock's goroutine.
func (s *InactivityScheduler) spawnLocked(ticketID string, gen uint64, phase InactivityPhase) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fire(ticketID, gen, phase)
	}()
}

// retryLater re-queues a failed phase unless activity armed a newer timer meanwhile.
func (s *InactivityScheduler) retryLater(ticketID string, phase InactivityPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[ticketID]; ok {
		return
	}
	s.gen++
	entry := &inactivityTimer{gen: s.gen, phase: phase, due: s.clock.Now().Add(inactivityRetryAfter)}
	s.timers[ticketID] = entry
	s.scheduleLocked(ticketID, entry, inactivityRetryAfter)
}

func (s *InactivityScheduler) fire(ticketID string, gen uint64, phase InactivityPhase) {
	s.mu.Lock()
	entry, ok := s.timers[ticketID]
	if !ok || entry.gen != gen || s.stopped || s.handler == nil {
		s.mu.Unlock()
		return
	}
	delete(s.timers, ticketID)
	handler := s.handler
	s.mu.Unlock()

	var err error
	switch phase {
	case PhaseWarn:
		err = handler.WarnInactive(s.ctx, ticketID)
	case PhaseClose:
		err = handler.CloseInactive(s.ctx, ticketID)
	}
	if err != nil {
		s.logger.Warn("inactivity callback failed",
			zap.String("ticket_id", ticketID),
			zap.String("phase", string(phase)),
			zap.Error(err))
		s.retryLater(ticketID, phase)
	}
}
