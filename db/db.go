// Package db is the typed storage adapter. It owns the schema, migrations,
// and a small filter builder shared by every entity file in this package.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a *sql.DB opened against the ring hub schema.
type DB struct {
	*sql.DB
}

// Execer is satisfied by both *sql.DB and *sql.Tx, so entity methods can be
// written once and used inside or outside a transaction.
type Execer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const schema = `
create table if not exists rings (
	id text primary key,
	slug text not null unique,
	name text not null,
	description text,
	short_code text unique,
	visibility text not null default 'PUBLIC',
	join_policy text not null default 'OPEN',
	post_policy text not null default 'OPEN',
	owner_did text not null,
	parent_id text references rings(id),
	curator_note text,
	banner_url text,
	theme_color text,
	badge_image_url text,
	badge_image_high_res_url text,
	metadata text,
	policies text,
	created_at datetime not null,
	updated_at datetime not null
);

create table if not exists ring_roles (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	name text not null,
	permissions text not null default '[]',
	unique(ring_id, name)
);

create table if not exists memberships (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	actor_did text not null,
	role_id text references ring_roles(id),
	status text not null default 'PENDING',
	joined_at datetime,
	left_at datetime,
	leave_reason text,
	application_message text,
	badge_id text,
	actor_name text,
	avatar_url text,
	profile_url text,
	instance_domain text,
	handle text,
	profile_last_fetched datetime,
	profile_source text,
	unique(ring_id, actor_did)
);

create table if not exists badges (
	id text primary key,
	membership_id text not null unique references memberships(id) on delete cascade,
	badge_data text not null,
	issued_at datetime not null,
	revoked_at datetime,
	revocation_reason text
);

create table if not exists post_refs (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	actor_did text not null,
	submitted_by text not null,
	uri text not null,
	digest text not null,
	submitted_at datetime not null,
	status text not null default 'PENDING',
	moderated_at datetime,
	moderated_by text,
	moderation_note text,
	pinned boolean not null default 0,
	metadata text,
	unique(ring_id, uri)
);

create table if not exists invitations (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	invitee_did text not null,
	inviter_did text not null,
	status text not null default 'PENDING',
	expires_at datetime not null,
	created_at datetime not null,
	responded_at datetime,
	message text,
	unique(ring_id, invitee_did)
);

create table if not exists blocks (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	target_did text not null,
	target_type text not null default 'USER',
	reason text,
	blocked_by text not null,
	blocked_at datetime not null,
	unique(ring_id, target_did)
);

create table if not exists audit_logs (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	action text not null,
	actor_did text not null,
	target_did text,
	metadata text,
	timestamp datetime not null
);

create table if not exists actors (
	id text primary key,
	did text not null unique,
	name text,
	type text not null default 'USER',
	instance_url text,
	public_key text,
	verified boolean not null default 0,
	trusted boolean not null default 0,
	is_admin boolean not null default 0,
	discovered_at datetime not null,
	last_seen_at datetime not null,
	metadata text
);

create table if not exists rate_limit_events (
	id text primary key,
	actor_did text not null,
	action text not null,
	performed_at datetime not null,
	window_type text not null,
	metadata text
);

create table if not exists actor_reputations (
	actor_did text primary key,
	tier text not null default 'NEW',
	reputation_score real not null default 0,
	rings_created integer not null default 0,
	active_rings integer not null default 0,
	total_posts integer not null default 0,
	membership_count integer not null default 0,
	flagged_for_review boolean not null default 0,
	violation_count integer not null default 0,
	last_violation_at datetime,
	cooldown_until datetime,
	last_calculated_at datetime not null
);

create table if not exists challenges (
	id text primary key,
	ring_id text not null references rings(id) on delete cascade,
	title text not null,
	prompt text not null,
	created_by text not null,
	created_at datetime not null,
	expires_at datetime,
	active boolean not null default 1,
	metadata text
);

create index if not exists idx_memberships_ring on memberships(ring_id);
create index if not exists idx_memberships_actor on memberships(actor_did);
create index if not exists idx_post_refs_ring on post_refs(ring_id, status);
create index if not exists idx_post_refs_actor_uri on post_refs(actor_did, uri);
create index if not exists idx_audit_ring on audit_logs(ring_id, timestamp desc);
create index if not exists idx_rate_limit_actor_action on rate_limit_events(actor_did, action, performed_at);
create index if not exists idx_rings_parent on rings(parent_id);

create table if not exists migrations (
	name text primary key,
	applied_at datetime not null
);
`

// Make opens (creating if necessary) the sqlite database at path, applies
// the base schema, and runs any outstanding migrations.
func Make(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}

	d := &DB{conn}
	if err := d.runMigrations(); err != nil {
		return nil, err
	}
	return d, nil
}

type migration struct {
	name string
	fn   func(tx *sql.Tx) error
}

// migrations applied in order, after the base schema. None are needed yet
// beyond the initial create; this list exists so future schema changes
// follow the same idempotent, transactional pattern rather than editing the
// base schema in place.
var migrationList = []migration{}

func (d *DB) runMigrations() error {
	for _, m := range migrationList {
		if err := d.runMigration(m.name, m.fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) runMigration(name string, fn func(tx *sql.Tx) error) error {
	var exists int
	err := d.QueryRow(`select count(1) from migrations where name = ?`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("db: check migration %s: %w", name, err)
	}
	if exists > 0 {
		return nil
	}

	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("db: begin migration %s: %w", name, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("db: migration %s: %w", name, err)
	}
	if _, err := tx.Exec(`insert into migrations (name, applied_at) values (?, ?)`, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("db: record migration %s: %w", name, err)
	}
	return tx.Commit()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic. Every multi-row write in the domain layer
// goes through this so the transaction boundary is the only place writes
// become visible.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

func (d *DB) Close() error {
	return d.DB.Close()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func scanNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
