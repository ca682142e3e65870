// Package ratelimit implements the reputation-weighted rate limiter:
// tiered quotas, violation tracking, cooldowns, and admin controls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
)

func durationFor(w Window) time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Tier threshold constants for recomputing an actor's reputation tier.
const (
	establishedRingsCreated = 1
	establishedPosts        = 5
	establishedMembership   = 2
	establishedDays         = 7

	veteranRingsCreated = 3
	veteranPosts        = 50
	veteranMembership   = 10
	veteranDays         = 30

	trustedRingsCreated = 10
	trustedPosts        = 250
	trustedMembership   = 25
	trustedDays         = 180
)

const (
	violationFlagThreshold    = 3
	violationCooldownBaseHour = 1
)

type Limiter struct {
	db    *db.DB
	table *Table
	now   func() time.Time
}

func New(database *db.DB, table *Table) *Limiter {
	return &Limiter{db: database, table: table, now: time.Now}
}

// Table exposes the configured quota table, read-only, for admin
// dashboards that want to display the active caps.
func (l *Limiter) Table() *Table {
	return l.table
}

// getOrCreateReputation resolves or creates the actor's reputation row,
// then recomputes its tier.
func (l *Limiter) getOrCreateReputation(ctx context.Context, actorDid string) (*db.ActorReputation, error) {
	rep, err := db.GetReputation(ctx, l.db, actorDid)
	now := l.now().UTC()
	if errors.Is(err, db.ErrNotFound) {
		actor, aerr := db.GetActorByDid(ctx, l.db, actorDid)
		discovered := now
		if aerr == nil {
			discovered = actor.DiscoveredAt
		}
		rep = &db.ActorReputation{
			ActorDid:         actorDid,
			Tier:             db.TierNew,
			LastCalculatedAt: now,
		}
		rep.Tier = l.computeTier(rep, discovered, now)
		if insertErr := db.UpsertReputation(ctx, l.db, rep); insertErr != nil {
			return nil, insertErr
		}
		return rep, nil
	}
	if err != nil {
		return nil, err
	}

	actor, aerr := db.GetActorByDid(ctx, l.db, actorDid)
	discovered := rep.LastCalculatedAt
	if aerr == nil {
		discovered = actor.DiscoveredAt
	}
	rep.Tier = l.computeTier(rep, discovered, now)
	rep.LastCalculatedAt = now
	if err := db.UpsertReputation(ctx, l.db, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (l *Limiter) computeTier(rep *db.ActorReputation, discoveredAt, now time.Time) db.Tier {
	days := now.Sub(discoveredAt).Hours() / 24

	switch {
	case rep.RingsCreated >= trustedRingsCreated && rep.TotalPosts >= trustedPosts &&
		rep.MembershipCount >= trustedMembership && days >= trustedDays:
		return db.TierTrusted
	case rep.RingsCreated >= veteranRingsCreated && rep.TotalPosts >= veteranPosts &&
		rep.MembershipCount >= veteranMembership && days >= veteranDays:
		return db.TierVeteran
	case rep.RingsCreated >= establishedRingsCreated && rep.TotalPosts >= establishedPosts &&
		rep.MembershipCount >= establishedMembership && days >= establishedDays:
		return db.TierEstablished
	default:
		return db.TierNew
	}
}

// Precheck runs before expensive work. It denies with a RateLimited error
// on cooldown or quota exhaustion; admins and TRUSTED/trusted actors bypass
// all caps.
func (l *Limiter) Precheck(ctx context.Context, actorDid string, isAdmin, isTrusted bool, action string) error {
	if isAdmin {
		return nil
	}

	rep, err := l.getOrCreateReputation(ctx, actorDid)
	if err != nil {
		return httperr.Internal("Internal", httperr.WithError(err))
	}

	if isTrusted || rep.Tier == db.TierTrusted {
		return nil
	}

	now := l.now().UTC()
	if rep.CooldownUntil != nil && rep.CooldownUntil.After(now) {
		retryAfter := int(rep.CooldownUntil.Sub(now).Seconds())
		return httperr.RateLimited("Cooldown", retryAfter, "cooldown", httperr.WithMessage("actor is in a rate-limit cooldown"))
	}

	for _, w := range l.table.WindowsFor(action) {
		limit, governed := l.table.CapFor(action, w, rep.Tier)
		if !governed || limit == Unlimited {
			continue
		}
		since := now.Add(-durationFor(w))
		count, err := db.CountRateLimitEvents(ctx, l.db, actorDid, action, since)
		if err != nil {
			return httperr.Internal("Internal", httperr.WithError(err))
		}
		if count >= limit {
			if violationErr := l.recordViolation(ctx, rep, now); violationErr != nil {
				return httperr.Internal("Internal", httperr.WithError(violationErr))
			}
			return httperr.RateLimited("QuotaExceeded", int(durationFor(w).Seconds()), string(w),
				httperr.WithMessage(fmt.Sprintf("%s quota exceeded for window %s", action, w)))
		}
	}

	return nil
}

func (l *Limiter) recordViolation(ctx context.Context, rep *db.ActorReputation, now time.Time) error {
	rep.ViolationCount++
	rep.LastViolationAt = &now

	if rep.ViolationCount >= violationFlagThreshold {
		rep.FlaggedForReview = true
		backoffHours := violationCooldownBaseHour << uint(rep.ViolationCount-violationFlagThreshold)
		if backoffHours > 168 {
			backoffHours = 168
		}
		cooldown := now.Add(time.Duration(backoffHours) * time.Hour)
		rep.CooldownUntil = &cooldown
	}

	return db.UpsertReputation(ctx, l.db, rep)
}

// Record writes a RateLimit event for every configured window of action,
// called after the underlying operation succeeds.
func (l *Limiter) Record(ctx context.Context, actorDid, action string, metadata *string) error {
	now := l.now().UTC()
	windows := l.table.WindowsFor(action)
	if len(windows) == 0 {
		windows = []Window{WindowHour}
	}
	for _, w := range windows {
		evt := &db.RateLimitEvent{
			ID:          uuid.NewString(),
			ActorDid:    actorDid,
			Action:      action,
			PerformedAt: now,
			WindowType:  string(w),
			Metadata:    metadata,
		}
		if err := db.InsertRateLimitEvent(ctx, l.db, evt); err != nil {
			return err
		}
	}
	return nil
}

// RefreshTier recomputes and persists actorDid's reputation tier, used by
// the scheduled reputation sweep so active actors don't wait for their
// next rate-limited action to pick up a tier change.
func (l *Limiter) RefreshTier(ctx context.Context, actorDid string) error {
	_, err := l.getOrCreateReputation(ctx, actorDid)
	return err
}

// --- admin controls ---

func (l *Limiter) ListFlagged(ctx context.Context) ([]*db.ActorReputation, error) {
	return db.ListFlaggedReputations(ctx, l.db)
}

func (l *Limiter) ClearViolations(ctx context.Context, actorDid string) error {
	rep, err := db.GetReputation(ctx, l.db, actorDid)
	if err != nil {
		return err
	}
	rep.ViolationCount = 0
	rep.FlaggedForReview = false
	rep.CooldownUntil = nil
	return db.UpsertReputation(ctx, l.db, rep)
}

func (l *Limiter) ApplyCooldown(ctx context.Context, actorDid string, hours int) error {
	if hours < 1 || hours > 168 {
		return httperr.Validation("InvalidCooldown", httperr.WithMessage("cooldown hours must be between 1 and 168"))
	}
	rep, err := l.getOrCreateReputation(ctx, actorDid)
	if err != nil {
		return err
	}
	until := l.now().UTC().Add(time.Duration(hours) * time.Hour)
	rep.CooldownUntil = &until
	return db.UpsertReputation(ctx, l.db, rep)
}

// SetAdmin grants or revokes admin on targetDid. A caller may never revoke
// their own admin status.
func (l *Limiter) SetAdmin(ctx context.Context, callerDid, targetDid string, admin bool) error {
	if !admin && callerDid == targetDid {
		return httperr.Validation("CannotSelfRevoke", httperr.WithMessage("cannot revoke your own admin status"))
	}
	actor, err := db.GetActorByDid(ctx, l.db, targetDid)
	if err != nil {
		return err
	}
	actor.IsAdmin = admin
	return db.UpdateActor(ctx, l.db, actor)
}
