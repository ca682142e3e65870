package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRejected InvitationStatus = "REJECTED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)

type Invitation struct {
	ID          string
	RingID      string
	InviteeDid  string
	InviterDid  string
	Status      InvitationStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	RespondedAt *time.Time
	Message     *string
}

const invitationColumns = `id, ring_id, invitee_did, inviter_did, status, expires_at, created_at, responded_at, message`

func scanInvitation(row interface{ Scan(...interface{}) error }) (*Invitation, error) {
	var inv Invitation
	var respondedAt sql.NullTime
	var message sql.NullString
	if err := row.Scan(&inv.ID, &inv.RingID, &inv.InviteeDid, &inv.InviterDid, &inv.Status, &inv.ExpiresAt,
		&inv.CreatedAt, &respondedAt, &message); err != nil {
		return nil, err
	}
	inv.RespondedAt = scanNullTime(respondedAt)
	inv.Message = scanNullString(message)
	return &inv, nil
}

func InsertInvitation(ctx context.Context, x Execer, inv *Invitation) error {
	_, err := x.ExecContext(ctx, `insert into invitations (`+invitationColumns+`) values (?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.RingID, inv.InviteeDid, inv.InviterDid, inv.Status, inv.ExpiresAt, inv.CreatedAt,
		nullTime(inv.RespondedAt), nullString(inv.Message))
	return err
}

func GetInvitation(ctx context.Context, x Execer, ringID, inviteeDid string) (*Invitation, error) {
	row := x.QueryRowContext(ctx, `select `+invitationColumns+` from invitations where ring_id = ? and invitee_did = ?`, ringID, inviteeDid)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func UpdateInvitation(ctx context.Context, x Execer, inv *Invitation) error {
	_, err := x.ExecContext(ctx, `update invitations set status=?, responded_at=? where id=?`, inv.Status, nullTime(inv.RespondedAt), inv.ID)
	return err
}

// ExpirePendingInvitations flips every PENDING invitation whose expiresAt
// has passed to EXPIRED. Never deletes rows.
func ExpirePendingInvitations(ctx context.Context, x Execer, now time.Time) (int64, error) {
	res, err := x.ExecContext(ctx, `update invitations set status=? where status=? and expires_at < ?`, InvitationExpired, InvitationPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
