package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bot/internal/auth"
	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/observability"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

const testSecret = "test-secret"

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeTickets struct {
	open []domain.Ticket
	err  error
}

func (f *fakeTickets) OpenTickets(context.Context) ([]domain.Ticket, error) { return f.open, f.err }

func (f *fakeTickets) Ticket(_ context.Context, id string) (*domain.Ticket, error) {
	for i := range f.open {
		if f.open[i].ID == id {
			return &f.open[i], nil
		}
	}
	return nil, apperrors.NewNotFound("ticket", nil)
}

type fakeTranscripts struct{}

func (fakeTranscripts) Artifact(_ context.Context, id string) (*domain.TranscriptArtifact, error) {
	if id != "closed-1" {
		return nil, apperrors.NewNotFound("transcript", map[string]any{"ticket_id": id})
	}
	return &domain.TranscriptArtifact{TicketID: id, Format: domain.TranscriptFormatJSONZstd}, nil
}

func (fakeTranscripts) Decode(a *domain.TranscriptArtifact) (*domain.TranscriptDocument, error) {
	return &domain.TranscriptDocument{TicketID: a.TicketID, Entries: []domain.TranscriptEntry{{Content: "hello"}}}, nil
}

func (fakeTranscripts) Render(a *domain.TranscriptArtifact) (string, error) {
	return "Ticket " + a.TicketID + "\n", nil
}

type fakePanels struct{ err error }

func (f fakePanels) Deploy(context.Context) (*domain.Panel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Panel{ChannelID: "panel", MessageID: "m1", Title: "Support", UpdatedAt: now}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

var _ = Describe("admin API", func() {
	var (
		app     *fiber.App
		tokens  *auth.TokenManager
		tickets *fakeTickets
		panels  fakePanels
		store   pinger
		metrics *observability.Metrics
		token   string
	)

	build := func() {
		app = fiber.New()
		RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
		RegisterRoutes(app, RouteConfig{
			Health:         handlers.NewHealthHandler("ticket-bot", "test", handlers.Dependency{Name: "store", Pinger: store}),
			Tickets:        handlers.NewTicketsHandler(tickets, fakeTranscripts{}),
			Panel:          handlers.NewPanelHandler(panels),
			Metrics:        handlers.NewMetricsHandler(metrics),
			AuthMiddleware: auth.NewAuthMiddleware(tokens),
		})
	}

	BeforeEach(func() {
		tokens = auth.NewTokenManager(testSecret, time.Hour, clockwork.NewFakeClockAt(now))
		claimant := "200000000000000002"
		tickets = &fakeTickets{open: []domain.Ticket{
			{ID: "t1", ChannelID: "c1", CategoryKey: "general", State: domain.TicketStateLocked, CreatedAt: now},
			{ID: "t2", ChannelID: "c2", CategoryKey: "billing", State: domain.TicketStateClaimed, ClaimedBy: &claimant, CreatedAt: now},
		}}
		panels = fakePanels{}
		store = pinger{}
		metrics = observability.NewMetrics()

		var err error
		token, _, err = tokens.GenerateToken("ops")
		Expect(err).NotTo(HaveOccurred())
		build()
	})

	do := func(method, target string, bearer string) (int, envelope, string) {
		req := httptest.NewRequest(method, target, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		var env envelope
		_ = json.Unmarshal(body, &env)
		return resp.StatusCode, env, string(body)
	}

	It("reports liveness without a token", func() {
		status, _, body := do(fiber.MethodGet, "/health/live", "")
		Expect(status).To(Equal(fiber.StatusOK))
		Expect(body).To(ContainSubstring(`"status":"alive"`))
	})

	It("reports unreadiness with dependency details", func() {
		store = pinger{err: errors.New("database is locked")}
		build()

		status, env, _ := do(fiber.MethodGet, "/health/ready", "")
		Expect(status).To(Equal(fiber.StatusServiceUnavailable))
		Expect(env.Error.Details).To(HaveKeyWithValue("store", "database is locked"))
	})

	It("requires a bearer token for admin routes", func() {
		status, env, _ := do(fiber.MethodGet, "/admin/tickets", "")
		Expect(status).To(Equal(fiber.StatusUnauthorized))
		Expect(env.Error.Code).To(Equal(apperrors.CodeUnauthorized))

		status, _, _ = do(fiber.MethodGet, "/admin/tickets", "not-a-jwt")
		Expect(status).To(Equal(fiber.StatusUnauthorized))
	})

	It("rejects tokens without the admin scope", func() {
		claims := &auth.Claims{SubjectID: "ops", Scope: "viewer", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		viewer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		Expect(err).NotTo(HaveOccurred())

		status, env, _ := do(fiber.MethodGet, "/admin/tickets", viewer)
		Expect(status).To(Equal(fiber.StatusForbidden))
		Expect(env.Error.Code).To(Equal(apperrors.CodeAuthorization))
	})

	It("lists open tickets with filters", func() {
		status, env, _ := do(fiber.MethodGet, "/admin/tickets?state=claimed", token)
		Expect(status).To(Equal(fiber.StatusOK))

		var items []map[string]any
		Expect(json.Unmarshal(env.Data, &items)).To(Succeed())
		Expect(items).To(HaveLen(1))
		Expect(items[0]).To(HaveKeyWithValue("id", "t2"))
		Expect(items[0]).To(HaveKeyWithValue("claimed_by", "200000000000000002"))
		Expect(items[0]["controls"]).To(ConsistOf("unclaim", "close"))
	})

	It("serves lifecycle counters to admins only", func() {
		metrics.RecordTransition("claim")
		metrics.RecordTransition("claim")
		metrics.RecordRejection("close", apperrors.CodeAuthorization)

		status, _, _ := do(fiber.MethodGet, "/admin/metrics", "")
		Expect(status).To(Equal(fiber.StatusUnauthorized))

		status, env, _ := do(fiber.MethodGet, "/admin/metrics", token)
		Expect(status).To(Equal(fiber.StatusOK))
		var snapshot observability.Snapshot
		Expect(json.Unmarshal(env.Data, &snapshot)).To(Succeed())
		Expect(snapshot.Transitions).To(HaveKeyWithValue("claim", BeEquivalentTo(2)))
		Expect(snapshot.Rejections).NotTo(BeEmpty())
	})

	It("rejects unknown state filters", func() {
		status, env, _ := do(fiber.MethodGet, "/admin/tickets?state=CLOSED", token)
		Expect(status).To(Equal(fiber.StatusBadRequest))
		Expect(env.Error.Code).To(Equal(apperrors.CodeValidation))
	})

	It("returns a single ticket or not found", func() {
		status, _, _ := do(fiber.MethodGet, "/admin/tickets/t1", token)
		Expect(status).To(Equal(fiber.StatusOK))

		status, env, _ := do(fiber.MethodGet, "/admin/tickets/nope", token)
		Expect(status).To(Equal(fiber.StatusNotFound))
		Expect(env.Error.Code).To(Equal(apperrors.CodeNotFound))
	})

	It("serves transcripts as text or json", func() {
		status, _, body := do(fiber.MethodGet, "/admin/tickets/closed-1/transcript", token)
		Expect(status).To(Equal(fiber.StatusOK))
		Expect(body).To(Equal("Ticket closed-1\n"))

		status, env, _ := do(fiber.MethodGet, "/admin/tickets/closed-1/transcript?format=json", token)
		Expect(status).To(Equal(fiber.StatusOK))
		Expect(string(env.Data)).To(ContainSubstring(`"content":"hello"`))
	})

	It("deploys the panel", func() {
		status, env, _ := do(fiber.MethodPost, "/admin/panel/deploy", token)
		Expect(status).To(Equal(fiber.StatusOK))
		Expect(string(env.Data)).To(ContainSubstring(`"message_id":"m1"`))
	})

	It("maps delivery failures to bad gateway", func() {
		panels = fakePanels{err: apperrors.NewDeliveryError("panel", errors.New("missing access"))}
		build()

		status, env, _ := do(fiber.MethodPost, "/admin/panel/deploy", token)
		Expect(status).To(Equal(fiber.StatusBadGateway))
		Expect(env.Error.Code).To(Equal(apperrors.CodeDelivery))
		Expect(metrics.Snapshot().Errors).NotTo(BeEmpty())
	})

	It("answers unknown routes with a not found envelope", func() {
		status, env, _ := do(fiber.MethodGet, "/nowhere", "")
		Expect(status).To(Equal(fiber.StatusNotFound))
		Expect(env.Error.Code).To(Equal(apperrors.CodeNotFound))
	})
})
