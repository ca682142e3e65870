package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Challenge struct {
	ID        string
	RingID    string
	Title     string
	Prompt    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Active    bool
	Metadata  *string
}

const challengeColumns = `id, ring_id, title, prompt, created_by, created_at, expires_at, active, metadata`

func scanChallenge(row interface{ Scan(...interface{}) error }) (*Challenge, error) {
	var c Challenge
	var expiresAt sql.NullTime
	var metadata sql.NullString
	if err := row.Scan(&c.ID, &c.RingID, &c.Title, &c.Prompt, &c.CreatedBy, &c.CreatedAt, &expiresAt, &c.Active, &metadata); err != nil {
		return nil, err
	}
	c.ExpiresAt = scanNullTime(expiresAt)
	c.Metadata = scanNullString(metadata)
	return &c, nil
}

func InsertChallenge(ctx context.Context, x Execer, c *Challenge) error {
	_, err := x.ExecContext(ctx, `insert into challenges (`+challengeColumns+`) values (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.RingID, c.Title, c.Prompt, c.CreatedBy, c.CreatedAt, nullTime(c.ExpiresAt), c.Active, nullString(c.Metadata))
	return err
}

func ListChallenges(ctx context.Context, x Execer, ringID string) ([]*Challenge, error) {
	rows, err := x.QueryContext(ctx, `select `+challengeColumns+` from challenges where ring_id = ? order by created_at desc`, ringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var ErrChallengeNotFound = errors.New("db: challenge not found")
