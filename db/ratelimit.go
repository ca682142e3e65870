package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type RateLimitEvent struct {
	ID          string
	ActorDid    string
	Action      string
	PerformedAt time.Time
	WindowType  string
	Metadata    *string
}

func InsertRateLimitEvent(ctx context.Context, x Execer, e *RateLimitEvent) error {
	_, err := x.ExecContext(ctx, `insert into rate_limit_events (id, actor_did, action, performed_at, window_type, metadata) values (?,?,?,?,?,?)`,
		e.ID, e.ActorDid, e.Action, e.PerformedAt, e.WindowType, nullString(e.Metadata))
	return err
}

func CountRateLimitEvents(ctx context.Context, x Execer, actorDid, action string, since time.Time) (int, error) {
	var n int
	err := x.QueryRowContext(ctx, `
		select count(1) from rate_limit_events
		where actor_did = ? and action = ? and performed_at >= ?`, actorDid, action, since).Scan(&n)
	return n, err
}

type Tier string

const (
	TierNew         Tier = "NEW"
	TierEstablished Tier = "ESTABLISHED"
	TierVeteran     Tier = "VETERAN"
	TierTrusted     Tier = "TRUSTED"
)

type ActorReputation struct {
	ActorDid         string
	Tier             Tier
	ReputationScore  float64
	RingsCreated     int
	ActiveRings      int
	TotalPosts       int
	MembershipCount  int
	FlaggedForReview bool
	ViolationCount   int
	LastViolationAt  *time.Time
	CooldownUntil    *time.Time
	LastCalculatedAt time.Time
}

const reputationColumns = `actor_did, tier, reputation_score, rings_created, active_rings, total_posts, membership_count, flagged_for_review, violation_count, last_violation_at, cooldown_until, last_calculated_at`

func scanReputation(row interface{ Scan(...interface{}) error }) (*ActorReputation, error) {
	var r ActorReputation
	var lastViolationAt, cooldownUntil sql.NullTime
	if err := row.Scan(&r.ActorDid, &r.Tier, &r.ReputationScore, &r.RingsCreated, &r.ActiveRings, &r.TotalPosts,
		&r.MembershipCount, &r.FlaggedForReview, &r.ViolationCount, &lastViolationAt, &cooldownUntil, &r.LastCalculatedAt); err != nil {
		return nil, err
	}
	r.LastViolationAt = scanNullTime(lastViolationAt)
	r.CooldownUntil = scanNullTime(cooldownUntil)
	return &r, nil
}

func GetReputation(ctx context.Context, x Execer, actorDid string) (*ActorReputation, error) {
	row := x.QueryRowContext(ctx, `select `+reputationColumns+` from actor_reputations where actor_did = ?`, actorDid)
	r, err := scanReputation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func UpsertReputation(ctx context.Context, x Execer, r *ActorReputation) error {
	_, err := x.ExecContext(ctx, `
		insert into actor_reputations (`+reputationColumns+`) values (?,?,?,?,?,?,?,?,?,?,?,?)
		on conflict(actor_did) do update set
			tier=excluded.tier, reputation_score=excluded.reputation_score, rings_created=excluded.rings_created,
			active_rings=excluded.active_rings, total_posts=excluded.total_posts, membership_count=excluded.membership_count,
			flagged_for_review=excluded.flagged_for_review, violation_count=excluded.violation_count,
			last_violation_at=excluded.last_violation_at, cooldown_until=excluded.cooldown_until,
			last_calculated_at=excluded.last_calculated_at`,
		r.ActorDid, r.Tier, r.ReputationScore, r.RingsCreated, r.ActiveRings, r.TotalPosts, r.MembershipCount,
		r.FlaggedForReview, r.ViolationCount, nullTime(r.LastViolationAt), nullTime(r.CooldownUntil), r.LastCalculatedAt,
	)
	return err
}

func ListFlaggedReputations(ctx context.Context, x Execer) ([]*ActorReputation, error) {
	rows, err := x.QueryContext(ctx, `select `+reputationColumns+` from actor_reputations where flagged_for_review = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ActorReputation
	for rows.Next() {
		r, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func ListActiveReputations(ctx context.Context, x Execer, since time.Time) ([]*ActorReputation, error) {
	rows, err := x.QueryContext(ctx, `
		select `+reputationColumns+` from actor_reputations
		where actor_did in (select distinct actor_did from rate_limit_events where performed_at >= ?)
		   or actor_did in (select distinct actor_did from memberships where joined_at >= ?)`, since, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ActorReputation
	for rows.Next() {
		r, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
