package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Badge struct {
	ID               string
	MembershipID     string
	BadgeData        string
	IssuedAt         time.Time
	RevokedAt        *time.Time
	RevocationReason *string
}

const badgeColumns = `id, membership_id, badge_data, issued_at, revoked_at, revocation_reason`

func scanBadge(row interface{ Scan(...interface{}) error }) (*Badge, error) {
	var b Badge
	var revokedAt sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&b.ID, &b.MembershipID, &b.BadgeData, &b.IssuedAt, &revokedAt, &reason); err != nil {
		return nil, err
	}
	b.RevokedAt = scanNullTime(revokedAt)
	b.RevocationReason = scanNullString(reason)
	return &b, nil
}

func InsertBadge(ctx context.Context, x Execer, b *Badge) error {
	_, err := x.ExecContext(ctx, `insert into badges (`+badgeColumns+`) values (?,?,?,?,?,?)`,
		b.ID, b.MembershipID, b.BadgeData, b.IssuedAt, nullTime(b.RevokedAt), nullString(b.RevocationReason))
	return err
}

func GetBadge(ctx context.Context, x Execer, id string) (*Badge, error) {
	row := x.QueryRowContext(ctx, `select `+badgeColumns+` from badges where id = ?`, id)
	b, err := scanBadge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func GetBadgeByMembership(ctx context.Context, x Execer, membershipID string) (*Badge, error) {
	row := x.QueryRowContext(ctx, `select `+badgeColumns+` from badges where membership_id = ?`, membershipID)
	b, err := scanBadge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func ListBadgesByActor(ctx context.Context, x Execer, actorDid string) ([]*Badge, error) {
	rows, err := x.QueryContext(ctx, `
		select b.id, b.membership_id, b.badge_data, b.issued_at, b.revoked_at, b.revocation_reason
		from badges b join memberships m on m.id = b.membership_id
		where m.actor_did = ? order by b.issued_at desc`, actorDid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func UpdateBadge(ctx context.Context, x Execer, b *Badge) error {
	_, err := x.ExecContext(ctx, `update badges set badge_data=?, issued_at=?, revoked_at=?, revocation_reason=? where id=?`,
		b.BadgeData, b.IssuedAt, nullTime(b.RevokedAt), nullString(b.RevocationReason), b.ID)
	return err
}

func RevokeBadge(ctx context.Context, x Execer, id string, reason *string, revokedAt time.Time) error {
	_, err := x.ExecContext(ctx, `update badges set revoked_at=?, revocation_reason=? where id=?`, revokedAt, nullString(reason), id)
	return err
}
