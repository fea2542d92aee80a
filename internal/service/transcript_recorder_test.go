package service

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

var _ = Describe("TranscriptRecorder", func() {
	var (
		h      *harness
		ticket *domain.Ticket
	)

	BeforeEach(func() {
		h = newHarness(harnessOptions{})
		ticket = h.open(ownerID, "general")
	})

	record := func(author, content string, attachments ...string) {
		Expect(h.recorder.Record(h.ctx, &domain.TranscriptEntry{
			TicketID:    ticket.ID,
			MessageID:   content,
			AuthorID:    author,
			Timestamp:   testStart,
			Content:     content,
			Attachments: attachments,
		})).To(Succeed())
	}

	closeDirectly := func() *domain.Ticket {
		closed, err := h.tickets.Update(h.ctx, ticket.ID, func(t *domain.Ticket) error {
			closedAt := testStart.Add(time.Hour)
			t.State = domain.TicketStateClosed
			t.ClaimedBy = nil
			t.ClosedAt = &closedAt
			t.ClosedBy = supporterA
			t.CloseReason = domain.CloseReasonManual
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		return closed
	}

	It("refuses to finalize an open ticket", func() {
		_, err := h.recorder.Finalize(h.ctx, ticket, "")
		Expect(err).To(haveCode(apperrors.CodeInvalidTransition))
	})

	It("renders entries in order with attachments", func() {
		record(ownerID, "hello")
		record(supporterA, "hi, looking now", "https://cdn.example/log.txt")

		artifact, err := h.recorder.Finalize(h.ctx, closeDirectly(), supporterA)
		Expect(err).NotTo(HaveOccurred())
		Expect(artifact.EntryCount).To(Equal(2))
		Expect(artifact.Format).To(Equal(domain.TranscriptFormatJSONZstd))

		text, err := h.recorder.Render(artifact)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("Claimed by: " + supporterA))
		Expect(text).To(MatchRegexp(`(?s)` + ownerID + `: hello.*` + supporterA + `: hi, looking now\n    attachment: https://cdn\.example/log\.txt`))

		files := h.platform.archived()
		Expect(files).To(HaveLen(1))
		Expect(files[0].ChannelID).To(Equal(archiveChan))
		Expect(string(files[0].File.Data)).To(Equal(text))

		dms := h.platform.dms()
		Expect(dms).To(HaveLen(1))
		Expect(dms[0].ChannelID).To(Equal(ownerID))
	})

	It("materializes the artifact once", func() {
		record(ownerID, "first")
		closed := closeDirectly()
		first, err := h.recorder.Finalize(h.ctx, closed, "")
		Expect(err).NotTo(HaveOccurred())

		record(ownerID, "too late")
		second, err := h.recorder.Finalize(h.ctx, closed, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Data).To(Equal(first.Data))
		Expect(second.EntryCount).To(Equal(1))
		Expect(h.platform.archived()).To(HaveLen(1))
	})

	It("keeps the transcript in the store when no archive channel is set", func() {
		recorder, err := NewTranscriptRecorder(TranscriptDependencies{
			Transcripts: h.transcripts,
			Tickets:     h.tickets,
			Platform:    h.platform,
			Clock:       h.clock,
			Logger:      zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		artifact, err := recorder.Finalize(h.ctx, closeDirectly(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.platform.archived()).To(BeEmpty())

		stored, err := recorder.Artifact(h.ctx, artifact.TicketID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.ArchivedAt).NotTo(BeNil())
	})

	It("reports a missing artifact as not found", func() {
		_, err := h.recorder.Artifact(h.ctx, ticket.ID)
		Expect(err).To(haveCode(apperrors.CodeNotFound))
	})
})
