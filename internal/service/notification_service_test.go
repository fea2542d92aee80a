package service

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
)

type captureSink struct {
	name string
	err  error

	mu       sync.Mutex
	received []events.Event
	closed   bool
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Deliver(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, event)
	return s.err
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, 0, len(s.received))
	for _, e := range s.received {
		out = append(out, e.Type)
	}
	return out
}

var _ = Describe("NotificationService", func() {
	var (
		dispatcher events.Dispatcher
		healthy    *captureSink
		broken     *captureSink
		svc        *NotificationService
	)

	BeforeEach(func() {
		dispatcher = events.NewInMemoryDispatcher()
		healthy = &captureSink{name: "healthy"}
		broken = &captureSink{name: "broken", err: errors.New("broker down")}
		svc = NewNotificationService(dispatcher, zap.NewNop(), 4, broken, healthy)
		svc.RegisterHandlers()
	})

	publish := func(eventType events.EventType) {
		Expect(dispatcher.Publish(bg(), events.New(eventType, "t1", domain.SystemActor(), testStart, nil))).To(Succeed())
	}

	It("forwards every event to every sink even when one fails", func() {
		ctx, cancel := context.WithCancel(bg())
		defer cancel()
		go svc.Run(ctx)

		publish(events.EventTicketCreated)
		publish(events.EventTicketClosed)

		Eventually(healthy.types, eventuallyFor).Should(Equal([]events.EventType{events.EventTicketCreated, events.EventTicketClosed}))
		Expect(broken.types()).To(HaveLen(2))
	})

	It("drops events instead of blocking when the queue is full", func() {
		for i := 0; i < 10; i++ {
			publish(events.EventTicketWarned)
		}
		Expect(svc.queue).To(HaveLen(4))
	})

	It("closes its sinks", func() {
		svc.Close()
		Expect(healthy.closed).To(BeTrue())
		Expect(broken.closed).To(BeTrue())
	})
})
