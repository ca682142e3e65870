package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityUnlisted Visibility = "UNLISTED"
	VisibilityPrivate  Visibility = "PRIVATE"
)

type JoinPolicy string

const (
	JoinPolicyOpen        JoinPolicy = "OPEN"
	JoinPolicyApplication JoinPolicy = "APPLICATION"
	JoinPolicyInvitation  JoinPolicy = "INVITATION"
	JoinPolicyClosed      JoinPolicy = "CLOSED"
)

type PostPolicy string

const (
	PostPolicyOpen    PostPolicy = "OPEN"
	PostPolicyMembers PostPolicy = "MEMBERS"
	PostPolicyCurated PostPolicy = "CURATED"
	PostPolicyClosed  PostPolicy = "CLOSED"
)

var ErrNotFound = errors.New("db: not found")

type Ring struct {
	ID                   string
	Slug                 string
	Name                 string
	Description          *string
	ShortCode            *string
	Visibility           Visibility
	JoinPolicy           JoinPolicy
	PostPolicy           PostPolicy
	OwnerDid             string
	ParentID             *string
	CuratorNote          *string
	BannerURL            *string
	ThemeColor           *string
	BadgeImageURL        *string
	BadgeImageHighResURL *string
	Metadata             *string
	Policies             *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const ringColumns = `id, slug, name, description, short_code, visibility, join_policy, post_policy, owner_did, parent_id, curator_note, banner_url, theme_color, badge_image_url, badge_image_high_res_url, metadata, policies, created_at, updated_at`

func scanRing(row interface{ Scan(...interface{}) error }) (*Ring, error) {
	var r Ring
	var description, shortCode, parentID, curatorNote, bannerURL, themeColor, badgeURL, badgeHiURL, metadata, policies sql.NullString
	if err := row.Scan(
		&r.ID, &r.Slug, &r.Name, &description, &shortCode, &r.Visibility, &r.JoinPolicy, &r.PostPolicy,
		&r.OwnerDid, &parentID, &curatorNote, &bannerURL, &themeColor, &badgeURL, &badgeHiURL,
		&metadata, &policies, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Description = scanNullString(description)
	r.ShortCode = scanNullString(shortCode)
	r.ParentID = scanNullString(parentID)
	r.CuratorNote = scanNullString(curatorNote)
	r.BannerURL = scanNullString(bannerURL)
	r.ThemeColor = scanNullString(themeColor)
	r.BadgeImageURL = scanNullString(badgeURL)
	r.BadgeImageHighResURL = scanNullString(badgeHiURL)
	r.Metadata = scanNullString(metadata)
	r.Policies = scanNullString(policies)
	return &r, nil
}

func InsertRing(ctx context.Context, x Execer, r *Ring) error {
	_, err := x.ExecContext(ctx, fmt.Sprintf(`insert into rings (%s) values (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, ringColumns),
		r.ID, r.Slug, r.Name, nullString(r.Description), nullString(r.ShortCode), r.Visibility, r.JoinPolicy, r.PostPolicy,
		r.OwnerDid, nullString(r.ParentID), nullString(r.CuratorNote), nullString(r.BannerURL), nullString(r.ThemeColor),
		nullString(r.BadgeImageURL), nullString(r.BadgeImageHighResURL), nullString(r.Metadata), nullString(r.Policies),
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func GetRingBySlug(ctx context.Context, x Execer, slug string) (*Ring, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from rings where slug = ?`, ringColumns), slug)
	r, err := scanRing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func GetRingByID(ctx context.Context, x Execer, id string) (*Ring, error) {
	row := x.QueryRowContext(ctx, fmt.Sprintf(`select %s from rings where id = ?`, ringColumns), id)
	r, err := scanRing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type RingListFilter struct {
	Search     string
	Visibility []Visibility
	MemberDid  string
}

func ListRings(ctx context.Context, x Execer, filters []filter, limit, offset int) ([]*Ring, error) {
	where, args := buildWhere(filters...)
	q := fmt.Sprintf(`select %s from rings %s order by updated_at desc limit ? offset ?`, ringColumns, where)
	args = append(args, limit, offset)
	rows, err := x.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ring
	for rows.Next() {
		r, err := scanRing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func CountRings(ctx context.Context, x Execer, filters ...filter) (int, error) {
	where, args := buildWhere(filters...)
	var n int
	err := x.QueryRowContext(ctx, fmt.Sprintf(`select count(1) from rings %s`, where), args...).Scan(&n)
	return n, err
}

func UpdateRing(ctx context.Context, x Execer, r *Ring) error {
	_, err := x.ExecContext(ctx, `
		update rings set name=?, description=?, short_code=?, visibility=?, join_policy=?, post_policy=?,
			parent_id=?, curator_note=?, banner_url=?, theme_color=?, badge_image_url=?, badge_image_high_res_url=?,
			metadata=?, policies=?, updated_at=?
		where id=?`,
		r.Name, nullString(r.Description), nullString(r.ShortCode), r.Visibility, r.JoinPolicy, r.PostPolicy,
		nullString(r.ParentID), nullString(r.CuratorNote), nullString(r.BannerURL), nullString(r.ThemeColor),
		nullString(r.BadgeImageURL), nullString(r.BadgeImageHighResURL), nullString(r.Metadata), nullString(r.Policies),
		r.UpdatedAt, r.ID,
	)
	return err
}

func DeleteRing(ctx context.Context, x Execer, id string) error {
	_, err := x.ExecContext(ctx, `delete from rings where id = ?`, id)
	return err
}

func SlugExists(ctx context.Context, x Execer, slug string) (bool, error) {
	var n int
	err := x.QueryRowContext(ctx, `select count(1) from rings where slug = ?`, slug).Scan(&n)
	return n > 0, err
}

// ChildRings returns the direct children of the ring with the given id, of
// every visibility, oldest first.
func ChildRings(ctx context.Context, x Execer, parentID string) ([]*Ring, error) {
	rows, err := x.QueryContext(ctx, fmt.Sprintf(`select %s from rings where parent_id = ? order by created_at asc`, ringColumns), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ring
	for rows.Next() {
		r, err := scanRing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type RingRole struct {
	ID          string
	RingID      string
	Name        string
	Permissions []string
}

func InsertRingRole(ctx context.Context, x Execer, rr *RingRole) error {
	perms, err := marshalStrings(rr.Permissions)
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx, `insert into ring_roles (id, ring_id, name, permissions) values (?,?,?,?)`,
		rr.ID, rr.RingID, rr.Name, perms)
	return err
}

func GetRingRoleByName(ctx context.Context, x Execer, ringID, name string) (*RingRole, error) {
	row := x.QueryRowContext(ctx, `select id, ring_id, name, permissions from ring_roles where ring_id = ? and name = ?`, ringID, name)
	return scanRingRole(row)
}

func GetRingRoleByID(ctx context.Context, x Execer, id string) (*RingRole, error) {
	row := x.QueryRowContext(ctx, `select id, ring_id, name, permissions from ring_roles where id = ?`, id)
	return scanRingRole(row)
}

func ListRingRoles(ctx context.Context, x Execer, ringID string) ([]*RingRole, error) {
	rows, err := x.QueryContext(ctx, `select id, ring_id, name, permissions from ring_roles where ring_id = ?`, ringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RingRole
	for rows.Next() {
		rr, err := scanRingRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func scanRingRole(row interface{ Scan(...interface{}) error }) (*RingRole, error) {
	var rr RingRole
	var perms string
	if err := row.Scan(&rr.ID, &rr.RingID, &rr.Name, &perms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	list, err := unmarshalStrings(perms)
	if err != nil {
		return nil, err
	}
	rr.Permissions = list
	return &rr, nil
}
