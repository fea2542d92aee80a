package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/service"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

type call struct {
	Op       string
	TicketID string
	ActorID  string
	Arg      string
}

type fakeOperations struct {
	calls   []call
	tickets map[string]*domain.Ticket
	err     error
	reused  bool
}

func (f *fakeOperations) CreateTicket(_ context.Context, in service.CreateTicketInput) (*service.CreateTicketResult, error) {
	f.calls = append(f.calls, call{Op: "create", ActorID: in.OwnerID, Arg: in.CategoryKey})
	if f.err != nil {
		return nil, f.err
	}
	return &service.CreateTicketResult{Ticket: &domain.Ticket{ID: "t1", ChannelID: "c1"}, Reused: f.reused}, nil
}

func (f *fakeOperations) transition(op, ticketID string, actor domain.Actor, arg string) (*domain.Ticket, error) {
	f.calls = append(f.calls, call{Op: op, TicketID: ticketID, ActorID: actor.ID, Arg: arg})
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Ticket{ID: ticketID}, nil
}

func (f *fakeOperations) Claim(_ context.Context, id string, actor domain.Actor) (*domain.Ticket, error) {
	return f.transition("claim", id, actor, "")
}

func (f *fakeOperations) Unclaim(_ context.Context, id string, actor domain.Actor) (*domain.Ticket, error) {
	return f.transition("unclaim", id, actor, "")
}

func (f *fakeOperations) Transfer(_ context.Context, id string, actor domain.Actor, target string) (*domain.Ticket, error) {
	return f.transition("transfer", id, actor, target)
}

func (f *fakeOperations) Close(_ context.Context, id string, actor domain.Actor) (*domain.Ticket, error) {
	return f.transition("close", id, actor, "")
}

func (f *fakeOperations) RecordMessage(_ context.Context, msg service.IncomingMessage) error {
	f.calls = append(f.calls, call{Op: "record", ActorID: msg.AuthorID, Arg: msg.Content})
	return f.err
}

func (f *fakeOperations) TicketByChannel(_ context.Context, channelID string) (*domain.Ticket, error) {
	ticket, ok := f.tickets[channelID]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	return ticket, nil
}

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.edits = append(f.edits, *edit.Content)
	return &discordgo.Message{}, nil
}

func componentInteraction(customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
	}}
}

func transferInteraction(options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "i2",
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: TransferCommandName, Options: options},
	}}
}

var _ = Describe("classification", func() {
	It("recognizes a panel selection", func() {
		event, ok := ClassifyInteraction(componentInteraction(platform.PanelSelectID, "billing"))
		Expect(ok).To(BeTrue())
		Expect(event).To(Equal(PanelSelected{UserID: "u1", CategoryKey: "billing"}))
	})

	It("recognizes control buttons", func() {
		event, ok := ClassifyInteraction(componentInteraction(platform.ControlCustomID(domain.ControlUnclaim)))
		Expect(ok).To(BeTrue())
		Expect(event).To(Equal(ControlPressed{ChannelID: "c1", UserID: "u1", Control: domain.ControlUnclaim}))
	})

	It("ignores components it does not own", func() {
		_, ok := ClassifyInteraction(componentInteraction("other:button"))
		Expect(ok).To(BeFalse())
		_, ok = ClassifyInteraction(componentInteraction(platform.PanelSelectID))
		Expect(ok).To(BeFalse())
	})

	It("reads the transfer target from the user option", func() {
		event, ok := ClassifyInteraction(transferInteraction(&discordgo.ApplicationCommandInteractionDataOption{
			Name: transferTargetOption, Type: discordgo.ApplicationCommandOptionUser, Value: "300000000000000003",
		}))
		Expect(ok).To(BeTrue())
		Expect(event).To(Equal(TransferRequested{ChannelID: "c1", UserID: "u1", TargetID: "300000000000000003"}))
	})

	It("uses the direct-message user when there is no member", func() {
		i := componentInteraction(platform.ControlCustomID(domain.ControlClose))
		i.Member = nil
		i.User = &discordgo.User{ID: "u9"}
		event, ok := ClassifyInteraction(i)
		Expect(ok).To(BeTrue())
		Expect(event.(ControlPressed).UserID).To(Equal("u9"))
	})

	It("skips bot messages and keeps attachment urls", func() {
		_, ok := ClassifyMessage(&discordgo.MessageCreate{Message: &discordgo.Message{Author: &discordgo.User{ID: "b", Bot: true}}})
		Expect(ok).To(BeFalse())

		at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
		event, ok := ClassifyMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
			ID: "m1", ChannelID: "c1", Content: "see log", Timestamp: at,
			Author:      &discordgo.User{ID: "u1"},
			Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn.example/a.png"}},
		}})
		Expect(ok).To(BeTrue())
		Expect(event).To(Equal(MessagePosted{
			ChannelID: "c1", MessageID: "m1", AuthorID: "u1", Content: "see log",
			Attachments: []string{"https://cdn.example/a.png"}, Timestamp: at,
		}))
	})
})

var _ = Describe("Router", func() {
	var (
		ops    *fakeOperations
		router *Router
		ctx    context.Context
	)

	BeforeEach(func() {
		ops = &fakeOperations{tickets: map[string]*domain.Ticket{"c1": {ID: "t1", ChannelID: "c1"}}}
		router = NewRouter(ops, zap.NewNop())
		ctx = context.Background()
	})

	It("opens a ticket from the panel", func() {
		reply, err := router.Route(ctx, PanelSelected{UserID: "u1", CategoryKey: "general"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(ContainSubstring("<#c1>"))
		Expect(ops.calls).To(Equal([]call{{Op: "create", ActorID: "u1", Arg: "general"}}))
	})

	It("points at the existing ticket when reused", func() {
		ops.reused = true
		reply, err := router.Route(ctx, PanelSelected{UserID: "u1", CategoryKey: "general"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(HavePrefix("You already have"))
	})

	DescribeTable("maps controls to transitions",
		func(control domain.Control, op string) {
			_, err := router.Route(ctx, ControlPressed{ChannelID: "c1", UserID: "u1", Control: control})
			Expect(err).NotTo(HaveOccurred())
			Expect(ops.calls).To(Equal([]call{{Op: op, TicketID: "t1", ActorID: "u1"}}))
		},
		Entry("claim", domain.ControlClaim, "claim"),
		Entry("unclaim", domain.ControlUnclaim, "unclaim"),
		Entry("close", domain.ControlClose, "close"),
	)

	It("passes transition errors through", func() {
		ops.err = apperrors.NewAuthorizationError("only supporters may close tickets")
		reply, err := router.Route(ctx, ControlPressed{ChannelID: "c1", UserID: "u1", Control: domain.ControlClose})
		Expect(reply).To(BeEmpty())
		Expect(apperrors.HasCode(err, apperrors.CodeAuthorization)).To(BeTrue())
	})

	It("transfers within a ticket channel", func() {
		reply, err := router.Route(ctx, TransferRequested{ChannelID: "c1", UserID: "u1", TargetID: "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(ContainSubstring("<@u2>"))
		Expect(ops.calls).To(Equal([]call{{Op: "transfer", TicketID: "t1", ActorID: "u1", Arg: "u2"}}))
	})

	It("refuses a transfer outside ticket channels", func() {
		_, err := router.Route(ctx, TransferRequested{ChannelID: "lobby", UserID: "u1", TargetID: "u2"})
		Expect(apperrors.HasCode(err, apperrors.CodeValidation)).To(BeTrue())
		Expect(ops.calls).To(BeEmpty())
	})

	It("records messages silently", func() {
		reply, err := router.Route(ctx, MessagePosted{ChannelID: "c1", AuthorID: "u1", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(BeEmpty())
		Expect(ops.calls).To(Equal([]call{{Op: "record", ActorID: "u1", Arg: "hello"}}))
	})
})

var _ = Describe("Handler", func() {
	var (
		ops       *fakeOperations
		responder *fakeResponder
		handler   *Handler
	)

	BeforeEach(func() {
		ops = &fakeOperations{tickets: map[string]*domain.Ticket{"c1": {ID: "t1", ChannelID: "c1"}}}
		responder = &fakeResponder{}
		handler = NewHandler(context.Background(), NewRouter(ops, zap.NewNop()), time.Second, zap.NewNop())
	})

	It("defers ephemerally and then reports the outcome", func() {
		handler.OnInteraction(responder, componentInteraction(platform.ControlCustomID(domain.ControlClaim)))

		Expect(responder.responses).To(HaveLen(1))
		Expect(responder.responses[0].Type).To(Equal(discordgo.InteractionResponseDeferredChannelMessageWithSource))
		Expect(responder.responses[0].Data.Flags).To(Equal(discordgo.MessageFlagsEphemeral))
		Expect(responder.edits).To(Equal([]string{"You claimed this ticket."}))
	})

	It("answers rejections with the user-facing message", func() {
		ops.err = apperrors.NewInvalidTransition("claim", string(domain.TicketStateClosed))
		handler.OnInteraction(responder, componentInteraction(platform.ControlCustomID(domain.ControlClaim)))

		Expect(responder.edits).To(HaveLen(1))
		Expect(responder.edits[0]).To(HavePrefix("That action is not possible right now"))
	})

	It("stays silent for interactions it does not own", func() {
		handler.OnInteraction(responder, componentInteraction("other:button"))
		Expect(responder.responses).To(BeEmpty())
	})

	It("records messages without replying", func() {
		handler.OnMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "m1", ChannelID: "c1", Author: &discordgo.User{ID: "u1"}, Content: "hi"}})
		Expect(ops.calls).To(HaveLen(1))
	})
})

var _ = Describe("Commands", func() {
	It("declares the transfer command with a required user option", func() {
		commands := Commands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Name).To(Equal(TransferCommandName))
		Expect(commands[0].Options[0].Type).To(Equal(discordgo.ApplicationCommandOptionUser))
		Expect(commands[0].Options[0].Required).To(BeTrue())
	})
})
