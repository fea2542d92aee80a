package service

import (
	"context"
	"slices"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// Authorizer answers role questions. Roles are fetched from the platform on every call
// because grants change while tickets are open.
type Authorizer struct {
	platform        platform.Platform
	guildID         string
	supporterRoles  []string
	ownerOverrideID string
}

// NewAuthorizer builds an authorizer for one guild.
func NewAuthorizer(p platform.Platform, guildID string, supporterRoles []string, ownerOverrideID string) *Authorizer {
	return &Authorizer{
		platform:        p,
		guildID:         guildID,
		supporterRoles:  supporterRoles,
		ownerOverrideID: ownerOverrideID,
	}
}

// IsOwnerOverride reports whether actor holds the configured bypass.
func (a *Authorizer) IsOwnerOverride(actor domain.Actor) bool {
	return !actor.System && a.ownerOverrideID != "" && actor.ID == a.ownerOverrideID
}

// IsSupporter reports whether userID currently holds any supporter role.
func (a *Authorizer) IsSupporter(ctx context.Context, userID string) (bool, error) {
	if userID == "" || userID == domain.SystemActorID {
		return false, nil
	}
	roles, err := a.platform.MemberRoles(ctx, a.guildID, userID)
	if err != nil {
		if platform.IsNotFound(err) {
			return false, nil
		}
		return false, apperrors.NewDeliveryError("member roles", err)
	}
	for _, role := range roles {
		if slices.Contains(a.supporterRoles, role) {
			return true, nil
		}
	}
	return false, nil
}

// Privileged reports whether actor is the system, the owner-override, or a supporter.
func (a *Authorizer) Privileged(ctx context.Context, actor domain.Actor) (bool, error) {
	if actor.System || a.IsOwnerOverride(actor) {
		return true, nil
	}
	return a.IsSupporter(ctx, actor.ID)
}

// RequirePrivileged fails with an authorization error unless Privileged holds.
func (a *Authorizer) RequirePrivileged(ctx context.Context, actor domain.Actor, action string) error {
	ok, err := a.Privileged(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewAuthorizationError("only supporters may " + action + " tickets")
	}
	return nil
}
