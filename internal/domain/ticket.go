package domain

import "time"

// TicketState enumerates lifecycle states for tickets.
type TicketState string

const (
	TicketStateCreated TicketState = "CREATED"
	TicketStateLocked  TicketState = "LOCKED"
	TicketStateClaimed TicketState = "CLAIMED"
	TicketStateClosed  TicketState = "CLOSED"
)

// IsOpen reports whether the state still accepts transitions.
func (s TicketState) IsOpen() bool {
	return s != TicketStateClosed
}

// CloseReason records why a ticket was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonInactivity CloseReason = "inactivity"
)

// Transfer is one reassignment of a claimed ticket.
type Transfer struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// Ticket is the aggregate for one support interaction. Every identifier is an
// opaque platform string and must never be parsed as a number.
type Ticket struct {
	ID               string
	GuildID          string
	ChannelID        string
	OwnerID          string
	CategoryKey      string
	State            TicketState
	ClaimedBy        *string
	TransferHistory  []Transfer
	ControlMessageID string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	WarnedAt         *time.Time
	ClosedAt         *time.Time
	ClosedBy         string
	CloseReason      CloseReason
	// ClosedClaimant is who held the ticket when it closed; ClaimedBy is cleared then.
	ClosedClaimant string
	Version        int64
}

// Clone returns a deep copy so mutators never alias stored state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	if t.ClaimedBy != nil {
		claimedBy := *t.ClaimedBy
		out.ClaimedBy = &claimedBy
	}
	if t.WarnedAt != nil {
		warnedAt := *t.WarnedAt
		out.WarnedAt = &warnedAt
	}
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		out.ClosedAt = &closedAt
	}
	out.TransferHistory = append([]Transfer(nil), t.TransferHistory...)
	return &out
}

// Claimant returns the current claimant or an empty string.
func (t *Ticket) Claimant() string {
	if t.ClaimedBy == nil {
		return ""
	}
	return *t.ClaimedBy
}

// Controls returns the interactive affordances the ticket's control message must show.
func (t *Ticket) Controls() []Control {
	return ControlsFor(t.State)
}

// CheckInvariants verifies the claim invariants that must hold after every transition.
func (t *Ticket) CheckInvariants() bool {
	if (t.State == TicketStateClaimed) != (t.ClaimedBy != nil) {
		return false
	}
	if t.State == TicketStateClosed && t.ClosedAt == nil {
		return false
	}
	return true
}

// Control is a button on a ticket's control message.
type Control string

const (
	ControlClaim   Control = "claim"
	ControlUnclaim Control = "unclaim"
	ControlClose   Control = "close"
)

// ControlsFor derives the control surface from the lifecycle state.
func ControlsFor(state TicketState) []Control {
	switch state {
	case TicketStateCreated, TicketStateLocked:
		return []Control{ControlClaim, ControlClose}
	case TicketStateClaimed:
		return []Control{ControlUnclaim, ControlClose}
	default:
		return nil
	}
}
