package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type MembershipStatus string

const (
	MembershipPending   MembershipStatus = "PENDING"
	MembershipActive    MembershipStatus = "ACTIVE"
	MembershipSuspended MembershipStatus = "SUSPENDED"
	MembershipRevoked   MembershipStatus = "REVOKED"
)

type Membership struct {
	ID                 string
	RingID             string
	ActorDid           string
	RoleID             *string
	Status             MembershipStatus
	JoinedAt           *time.Time
	LeftAt             *time.Time
	LeaveReason        *string
	ApplicationMessage *string
	BadgeID            *string
	ActorName          *string
	AvatarURL          *string
	ProfileURL         *string
	InstanceDomain     *string
	Handle             *string
	ProfileLastFetched *time.Time
	ProfileSource      *string
}

const membershipColumns = `id, ring_id, actor_did, role_id, status, joined_at, left_at, leave_reason, application_message, badge_id, actor_name, avatar_url, profile_url, instance_domain, handle, profile_last_fetched, profile_source`

func scanMembership(row interface{ Scan(...interface{}) error }) (*Membership, error) {
	var m Membership
	var roleID, leaveReason, appMsg, badgeID, actorName, avatarURL, profileURL, instanceDomain, handle, profileSource sql.NullString
	var joinedAt, leftAt, profileLastFetched sql.NullTime
	if err := row.Scan(
		&m.ID, &m.RingID, &m.ActorDid, &roleID, &m.Status, &joinedAt, &leftAt, &leaveReason, &appMsg, &badgeID,
		&actorName, &avatarURL, &profileURL, &instanceDomain, &handle, &profileLastFetched, &profileSource,
	); err != nil {
		return nil, err
	}
	m.RoleID = scanNullString(roleID)
	m.LeaveReason = scanNullString(leaveReason)
	m.ApplicationMessage = scanNullString(appMsg)
	m.BadgeID = scanNullString(badgeID)
	m.ActorName = scanNullString(actorName)
	m.AvatarURL = scanNullString(avatarURL)
	m.ProfileURL = scanNullString(profileURL)
	m.InstanceDomain = scanNullString(instanceDomain)
	m.Handle = scanNullString(handle)
	m.ProfileSource = scanNullString(profileSource)
	m.JoinedAt = scanNullTime(joinedAt)
	m.LeftAt = scanNullTime(leftAt)
	m.ProfileLastFetched = scanNullTime(profileLastFetched)
	return &m, nil
}

func InsertMembership(ctx context.Context, x Execer, m *Membership) error {
	_, err := x.ExecContext(ctx, fmt.Sprintf(`insert into memberships (%s) values (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, membershipColumns),
		m.ID, m.RingID, m.ActorDid, nullString(m.RoleID), m.Status, nullTime(m.JoinedAt), nullTime(m.LeftAt),
		nullString(m.LeaveReason), nullString(m.ApplicationMessage), nullString(m.BadgeID), nullString(m.ActorName),
		nullString(m.AvatarURL), nullString(m.ProfileURL), nullString(m.InstanceDomain), nullString(m.Handle),
		nullTime(m.ProfileLastFetched), nullString(m.ProfileSource),
	)
	return err
}

func GetMembership(ctx context.Context, x Execer, ringID, actorDid string) (*Membership, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from memberships where ring_id = ? and actor_did = ?`, membershipColumns), ringID, actorDid)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func GetMembershipByID(ctx context.Context, x Execer, id string) (*Membership, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from memberships where id = ?`, membershipColumns), id)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func ListMemberships(ctx context.Context, x Execer, filters ...filter) ([]*Membership, error) {
	where, args := buildWhere(filters...)
	rows, err := x.QueryContext(ctx, fmt.Sprintf(`select %s from memberships %s order by joined_at asc`, membershipColumns, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func CountMemberships(ctx context.Context, x Execer, filters ...filter) (int, error) {
	where, args := buildWhere(filters...)
	var n int
	err := x.QueryRowContext(ctx, fmt.Sprintf(`select count(1) from memberships %s`, where), args...).Scan(&n)
	return n, err
}

func UpdateMembership(ctx context.Context, x Execer, m *Membership) error {
	_, err := x.ExecContext(ctx, `
		update memberships set role_id=?, status=?, joined_at=?, left_at=?, leave_reason=?, application_message=?,
			badge_id=?, actor_name=?, avatar_url=?, profile_url=?, instance_domain=?, handle=?,
			profile_last_fetched=?, profile_source=?
		where id=?`,
		nullString(m.RoleID), m.Status, nullTime(m.JoinedAt), nullTime(m.LeftAt), nullString(m.LeaveReason),
		nullString(m.ApplicationMessage), nullString(m.BadgeID), nullString(m.ActorName), nullString(m.AvatarURL),
		nullString(m.ProfileURL), nullString(m.InstanceDomain), nullString(m.Handle), nullTime(m.ProfileLastFetched),
		nullString(m.ProfileSource), m.ID,
	)
	return err
}

// UpdateMembershipProfile fans out freshly resolved profile fields to every
// membership row for an actor, per the profile resolver's cache contract.
func UpdateMembershipProfile(ctx context.Context, x Execer, actorDid, name string, avatarURL, profileURL, instanceDomain, handle *string, source string, fetchedAt time.Time) error {
	_, err := x.ExecContext(ctx, `
		update memberships set actor_name=?, avatar_url=?, profile_url=?, instance_domain=?, handle=?,
			profile_last_fetched=?, profile_source=?
		where actor_did=?`,
		nullStringVal(name), nullString(avatarURL), nullString(profileURL), nullString(instanceDomain),
		nullString(handle), fetchedAt, source, actorDid,
	)
	return err
}

func nullStringVal(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
