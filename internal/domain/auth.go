package domain

import "time"

// SystemActorID identifies transitions performed by the bot itself.
const SystemActorID = "system"

// Actor is whoever triggered a transition.
type Actor struct {
	ID     string
	System bool
}

// UserActor builds an actor for a chat user.
func UserActor(userID string) Actor {
	return Actor{ID: userID}
}

// SystemActor builds the actor used for timer-driven transitions.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, System: true}
}

// AdminToken represents issued admin API token metadata.
type AdminToken struct {
	SubjectID string
	ExpiresAt time.Time
	IssuedAt  time.Time
}
