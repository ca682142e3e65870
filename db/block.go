package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type TargetType string

const (
	TargetUser     TargetType = "USER"
	TargetInstance TargetType = "INSTANCE"
	TargetActor    TargetType = "ACTOR"
)

type Block struct {
	ID         string
	RingID     string
	TargetDid  string
	TargetType TargetType
	Reason     *string
	BlockedBy  string
	BlockedAt  time.Time
}

func InsertBlock(ctx context.Context, x Execer, b *Block) error {
	_, err := x.ExecContext(ctx, `insert into blocks (id, ring_id, target_did, target_type, reason, blocked_by, blocked_at) values (?,?,?,?,?,?,?)`,
		b.ID, b.RingID, b.TargetDid, b.TargetType, nullString(b.Reason), b.BlockedBy, b.BlockedAt)
	return err
}

func GetBlock(ctx context.Context, x Execer, ringID, targetDid string) (*Block, error) {
	row := x.QueryRowContext(ctx, `select id, ring_id, target_did, target_type, reason, blocked_by, blocked_at from blocks where ring_id = ? and target_did = ?`, ringID, targetDid)
	var b Block
	var reason sql.NullString
	if err := row.Scan(&b.ID, &b.RingID, &b.TargetDid, &b.TargetType, &reason, &b.BlockedBy, &b.BlockedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.Reason = scanNullString(reason)
	return &b, nil
}

func IsBlocked(ctx context.Context, x Execer, ringID, targetDid string) (bool, error) {
	var n int
	err := x.QueryRowContext(ctx, `select count(1) from blocks where ring_id = ? and target_did = ?`, ringID, targetDid).Scan(&n)
	return n > 0, err
}
