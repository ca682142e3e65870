package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostStatus string

const (
	PostPending  PostStatus = "PENDING"
	PostAccepted PostStatus = "ACCEPTED"
	PostRejected PostStatus = "REJECTED"
	PostRemoved  PostStatus = "REMOVED"
)

type PostRef struct {
	ID             string
	RingID         string
	ActorDid       string
	SubmittedBy    string
	URI            string
	Digest         string
	SubmittedAt    time.Time
	Status         PostStatus
	ModeratedAt    *time.Time
	ModeratedBy    *string
	ModerationNote *string
	Pinned         bool
	Metadata       *string
}

const postRefColumns = `id, ring_id, actor_did, submitted_by, uri, digest, submitted_at, status, moderated_at, moderated_by, moderation_note, pinned, metadata`

func scanPostRef(row interface{ Scan(...interface{}) error }) (*PostRef, error) {
	var p PostRef
	var moderatedAt sql.NullTime
	var moderatedBy, moderationNote, metadata sql.NullString
	if err := row.Scan(&p.ID, &p.RingID, &p.ActorDid, &p.SubmittedBy, &p.URI, &p.Digest, &p.SubmittedAt, &p.Status,
		&moderatedAt, &moderatedBy, &moderationNote, &p.Pinned, &metadata); err != nil {
		return nil, err
	}
	p.ModeratedAt = scanNullTime(moderatedAt)
	p.ModeratedBy = scanNullString(moderatedBy)
	p.ModerationNote = scanNullString(moderationNote)
	p.Metadata = scanNullString(metadata)
	return &p, nil
}

func InsertPostRef(ctx context.Context, x Execer, p *PostRef) error {
	_, err := x.ExecContext(ctx, fmt.Sprintf(`insert into post_refs (%s) values (?,?,?,?,?,?,?,?,?,?,?,?,?)`, postRefColumns),
		p.ID, p.RingID, p.ActorDid, p.SubmittedBy, p.URI, p.Digest, p.SubmittedAt, p.Status,
		nullTime(p.ModeratedAt), nullString(p.ModeratedBy), nullString(p.ModerationNote), p.Pinned, nullString(p.Metadata))
	return err
}

func GetPostRefByURI(ctx context.Context, x Execer, ringID, uri string) (*PostRef, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from post_refs where ring_id = ? and uri = ?`, postRefColumns), ringID, uri)
	p, err := scanPostRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func GetPostRefByID(ctx context.Context, x Execer, id string) (*PostRef, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from post_refs where id = ?`, postRefColumns), id)
	p, err := scanPostRef(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func ListPostRefs(ctx context.Context, x Execer, filters []filter, orderBy string, limit, offset int) ([]*PostRef, error) {
	where, args := buildWhere(filters...)
	if orderBy == "" {
		orderBy = "pinned desc, submitted_at desc"
	}
	q := fmt.Sprintf(`select %s from post_refs %s order by %s limit ? offset ?`, postRefColumns, where, orderBy)
	args = append(args, limit, offset)
	rows, err := x.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PostRef
	for rows.Next() {
		p, err := scanPostRef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func CountPostRefs(ctx context.Context, x Execer, filters ...filter) (int, error) {
	where, args := buildWhere(filters...)
	var n int
	err := x.QueryRowContext(ctx, fmt.Sprintf(`select count(1) from post_refs %s`, where), args...).Scan(&n)
	return n, err
}

func UpdatePostRef(ctx context.Context, x Execer, p *PostRef) error {
	_, err := x.ExecContext(ctx, `
		update post_refs set status=?, moderated_at=?, moderated_by=?, moderation_note=?, pinned=?, metadata=?
		where id=?`,
		p.Status, nullTime(p.ModeratedAt), nullString(p.ModeratedBy), nullString(p.ModerationNote), p.Pinned,
		nullString(p.Metadata), p.ID)
	return err
}

// RemovePostRefsGlobally marks every PostRef matching (actorDid, uri) as
// REMOVED in one statement, returning the distinct ring ids affected. This
// is the atomic author-global removal path: a single bulk update, never a
// per-row loop with per-row commits.
func RemovePostRefsGlobally(ctx context.Context, x Execer, actorDid, uri, moderatedBy, note string, moderatedAt time.Time) ([]string, error) {
	rows, err := x.QueryContext(ctx, `select distinct ring_id from post_refs where actor_did = ? and uri = ? and status != ?`, actorDid, uri, PostRemoved)
	if err != nil {
		return nil, err
	}
	var ringIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ringIDs = append(ringIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := x.ExecContext(ctx, `
		update post_refs set status=?, moderated_at=?, moderated_by=?, moderation_note=?
		where actor_did = ? and uri = ? and status != ?`,
		PostRemoved, moderatedAt, moderatedBy, note, actorDid, uri, PostRemoved); err != nil {
		return nil, err
	}

	return ringIDs, nil
}
