// Package perms decides whether an actor may run a handler. Two requirement
// kinds exist: native Discord permission bits carried on the member, and
// custom named permissions granted per guild through the guild profile.
package perms

import (
	"errors"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

// ErrForbidden is returned for every denial, whichever check failed.
var ErrForbidden = errors.New("perms: forbidden")

// Actor is the identity behind an interaction, as supplied by the gateway.
type Actor struct {
	ID    string
	Roles []string

	// Permissions holds the member's resolved permission bits.
	// PermissionsKnown is false when the member context could not be
	// evaluated (e.g. the actor left the guild mid-flight); native checks
	// then deny.
	Permissions      int64
	PermissionsKnown bool
}

// Gate evaluates requirements against actors. Construction fixes the
// developer override list; everything else is read fresh per call.
type Gate struct {
	developers map[string]struct{}
}

// NewGate builds a Gate with the given developer/override identities.
func NewGate(developerIDs []string) *Gate {
	devs := make(map[string]struct{}, len(developerIDs))
	for _, id := range developerIDs {
		devs[id] = struct{}{}
	}
	return &Gate{developers: devs}
}

// IsDeveloper reports whether the actor is an override identity.
func (g *Gate) IsDeveloper(actorID string) bool {
	_, ok := g.developers[actorID]
	return ok
}

// Authorize returns nil when the actor satisfies every requirement, or
// ErrForbidden.
//
// The developer override is checked first and short-circuits everything.
// With no requirements at all the call allows. Native bits must be a
// superset of requiredNative. Custom requirements use AND semantics: the
// actor must hold every named permission, through a direct user grant or a
// role grant in the guild profile. Custom permissions are guild-scoped, so a
// nil guild profile denies any non-empty custom requirement.
//
// The decision is a pure function of its arguments; nothing is cached.
func (g *Gate) Authorize(actor Actor, requiredNative int64, requiredCustom []string, guild *store.GuildProfile) error {
	if g.IsDeveloper(actor.ID) {
		return nil
	}

	if requiredNative == 0 && len(requiredCustom) == 0 {
		return nil
	}

	if requiredNative != 0 {
		if !actor.PermissionsKnown {
			return ErrForbidden
		}
		if actor.Permissions&requiredNative != requiredNative {
			return ErrForbidden
		}
	}

	if len(requiredCustom) > 0 {
		if guild == nil {
			return ErrForbidden
		}
		for _, name := range requiredCustom {
			if !guild.HoldsCustom(name, actor.ID, actor.Roles) {
				return ErrForbidden
			}
		}
	}

	return nil
}
