package service

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/platform"
)

var _ = Describe("PanelService", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness(harnessOptions{})
	})

	It("renders one option per category", func() {
		msg := h.panels.Message()
		Expect(msg.Embed.Title).To(Equal("Support"))
		Expect(msg.Select.CustomID).To(Equal(platform.PanelSelectID))
		Expect(msg.Select.Options).To(HaveLen(2))
		Expect(msg.Select.Options[1].Value).To(Equal("billing"))
		Expect(msg.Select.Options[1].Emoji).To(Equal("💳"))
	})

	It("posts the panel and remembers where", func() {
		panel, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(panel.ChannelID).To(Equal(panelChan))
		Expect(h.platform.postsIn(panelChan)).To(HaveLen(1))

		stored, err := h.tickets.GetPanel(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.MessageID).To(Equal(panel.MessageID))
		Expect(stored.Categories).To(HaveLen(2))
	})

	It("edits the existing panel in place on redeploy", func() {
		first, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())

		second, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.MessageID).To(Equal(first.MessageID))
		Expect(h.platform.postsIn(panelChan)).To(HaveLen(1))
	})

	It("reposts when the panel message was deleted", func() {
		first, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		h.platform.forget(first.MessageID)

		second, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.MessageID).NotTo(Equal(first.MessageID))
		Expect(h.platform.postsIn(panelChan)).To(HaveLen(2))

		var deployed []events.PanelDeployedPayload
		for _, event := range h.events.events {
			if payload, ok := event.Payload.(events.PanelDeployedPayload); ok {
				deployed = append(deployed, payload)
			}
		}
		Expect(deployed).To(HaveLen(2))
		Expect(deployed[0].Reposted).To(BeTrue())
		Expect(deployed[1].Reposted).To(BeTrue())
	})

	It("retires the old panel when the panel channel changes", func() {
		first, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())

		moved := NewPanelService(PanelDependencies{
			Tickets:     h.tickets,
			Platform:    h.platform,
			Clock:       h.clock,
			ChannelID:   "panel-moved",
			Panel:       testPanel(),
			MaxAttempts: 1,
			Logger:      zap.NewNop(),
		})
		second, err := moved.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ChannelID).To(Equal("panel-moved"))
		Expect(second.MessageID).NotTo(Equal(first.MessageID))
		Expect(h.platform.postsIn("panel-moved")).To(HaveLen(1))

		old := h.platform.message(first.MessageID)
		Expect(old.Select).To(BeNil())
		Expect(old.Controls).To(BeEmpty())
		Expect(old.Content).To(ContainSubstring("<#panel-moved>"))
		Expect(h.platform.message(second.MessageID).Select).NotTo(BeNil())
	})

	It("still moves the panel when the old message is already gone", func() {
		first, err := h.panels.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		h.platform.forget(first.MessageID)

		moved := NewPanelService(PanelDependencies{
			Tickets:     h.tickets,
			Platform:    h.platform,
			Clock:       h.clock,
			ChannelID:   "panel-moved",
			Panel:       testPanel(),
			MaxAttempts: 1,
			Logger:      zap.NewNop(),
		})
		_, err = moved.Deploy(h.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.platform.postsIn("panel-moved")).To(HaveLen(1))
	})

	It("resolves categories by key", func() {
		category, ok := h.panels.Category("general")
		Expect(ok).To(BeTrue())
		Expect(category).To(Equal(domain.PanelCategory{Key: "general", Label: "General", TargetCategoryID: "parent-general"}))

		_, ok = h.panels.Category("missing")
		Expect(ok).To(BeFalse())
	})
})
