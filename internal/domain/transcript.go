package domain

import "time"

// TranscriptEntry is one recorded message. Seq is assigned by the store and is
// the canonical order; timestamps may collide.
type TranscriptEntry struct {
	Seq         int64     `json:"seq"`
	TicketID    string    `json:"ticket_id"`
	MessageID   string    `json:"message_id"`
	AuthorID    string    `json:"author_id"`
	Timestamp   time.Time `json:"timestamp"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
}

// TranscriptFormat identifies how an artifact's data is encoded.
type TranscriptFormat string

const TranscriptFormatJSONZstd TranscriptFormat = "json+zstd"

// TranscriptArtifact is the immutable materialized log of a closed ticket.
type TranscriptArtifact struct {
	TicketID         string
	Format           TranscriptFormat
	Data             []byte
	EntryCount       int
	CreatedAt        time.Time
	ArchivedAt       *time.Time
	OwnerDeliveredAt *time.Time
}

// TranscriptDocument is the decoded artifact payload.
type TranscriptDocument struct {
	TicketID    string            `json:"ticket_id"`
	ChannelID   string            `json:"channel_id"`
	OwnerID     string            `json:"owner_id"`
	CategoryKey string            `json:"category_key"`
	ClaimedBy   string            `json:"claimed_by,omitempty"`
	Transfers   []Transfer        `json:"transfers,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ClosedAt    time.Time         `json:"closed_at"`
	ClosedBy    string            `json:"closed_by"`
	CloseReason CloseReason       `json:"close_reason"`
	Entries     []TranscriptEntry `json:"entries"`
}
