// Package profile implements the profile resolver: deriving display
// fields from a resolved DID document, caching them on the Actor record,
// and fanning them out to every Membership row for the actor.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/identity"
)

const cacheTTL = 24 * time.Hour

// cachedProfile is the shape persisted into Actor.Metadata -- the actors
// table has no dedicated profile columns, since membership rows already
// carry the fanned-out copy that serves reads.
type cachedProfile struct {
	Profile   *identity.Profile `json:"profile"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

type Resolver struct {
	identity *identity.Resolver
	db       *db.DB
	logger   *slog.Logger
}

func New(identityResolver *identity.Resolver, database *db.DB, logger *slog.Logger) *Resolver {
	return &Resolver{identity: identityResolver, db: database, logger: logger}
}

// Ensure returns a fresh profile for did, fetching and caching it if the
// cached copy is absent or older than 24h. blocking indicates whether the
// caller is a membership operation: blocking callers surface
// identity.ErrNoProfileURL as a 400 validation error; non-blocking callers
// (the authentication pipeline) swallow resolution failures and return nil.
func (r *Resolver) Ensure(ctx context.Context, did string, blocking bool) (*identity.Profile, error) {
	actor, err := db.GetActorByDid(ctx, r.db, did)
	if err != nil {
		if blocking {
			return nil, err
		}
		return nil, nil
	}

	if cached := decodeCached(actor.Metadata); cached != nil && time.Since(cached.FetchedAt) < cacheTTL {
		return cached.Profile, nil
	}

	p, err := r.fetch(ctx, did, actor)
	if err != nil {
		if blocking {
			if errors.Is(err, identity.ErrNoProfileURL) {
				return nil, httperr.Validation("NoProfileURL", httperr.WithMessage("the actor's DID document has no Profile service endpoint"))
			}
			return nil, httperr.Internal("ProfileResolutionFailed", httperr.WithError(err))
		}
		r.logger.Warn("profile: resolution failed, continuing unauthenticated-degraded", "did", did, "error", err)
		return nil, nil
	}
	return p, nil
}

func (r *Resolver) fetch(ctx context.Context, did string, actor *db.Actor) (*identity.Profile, error) {
	doc, err := r.identity.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	p, err := identity.ExtractProfile(did, doc)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := r.cache(ctx, actor, p, now); err != nil {
		r.logger.Error("profile: caching on actor", "did", did, "error", err)
	}
	if err := db.UpdateMembershipProfile(ctx, r.db, did, p.ActorName, strPtr(p.AvatarURL), strPtr(p.ProfileURL), strPtr(p.InstanceDomain), strPtr(p.Handle), "did-document", now); err != nil {
		r.logger.Error("profile: fanning out to memberships", "did", did, "error", err)
	}
	return p, nil
}

func (r *Resolver) cache(ctx context.Context, actor *db.Actor, p *identity.Profile, fetchedAt time.Time) error {
	b, err := json.Marshal(cachedProfile{Profile: p, FetchedAt: fetchedAt})
	if err != nil {
		return err
	}
	s := string(b)
	actor.Metadata = &s
	return db.UpdateActor(ctx, r.db, actor)
}

func decodeCached(metadata *string) *cachedProfile {
	if metadata == nil {
		return nil
	}
	var c cachedProfile
	if err := json.Unmarshal([]byte(*metadata), &c); err != nil {
		return nil
	}
	if c.Profile == nil {
		return nil
	}
	return &c
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Invalidate purges the identity resolver's document cache and the Actor's
// cached profile so the next Ensure call re-fetches. Used by the
// profile-updated notification endpoint.
func (r *Resolver) Invalidate(ctx context.Context, did string) {
	r.identity.Invalidate(ctx, did)
	actor, err := db.GetActorByDid(ctx, r.db, did)
	if err != nil {
		return
	}
	actor.Metadata = nil
	if err := db.UpdateActor(ctx, r.db, actor); err != nil {
		r.logger.Error("profile: clearing cached profile", "did", did, "error", err)
	}
}
