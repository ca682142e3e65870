// Package audit exposes read access to a ring's append-only AuditLog
// entries, filterable by action, actor, target, and time window.
package audit

import (
	"context"
	"time"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/pagination"
)

type Engine struct {
	db *db.DB
}

func New(database *db.DB) *Engine {
	return &Engine{db: database}
}

// Filter narrows a ring's audit trail. Zero values are unconstrained.
type Filter struct {
	Action    string
	ActorDid  string
	TargetDid string
	Since     *time.Time
	Until     *time.Time
}

// List returns a ring's audit entries matching f, newest first, alongside
// the total matching count for pagination.
func (e *Engine) List(ctx context.Context, ringID string, f Filter, page pagination.Page) ([]*db.AuditLog, int, error) {
	fs := db.Filters(db.FilterEq("ring_id", ringID))

	if f.Action != "" {
		fs = append(fs, db.FilterEq("action", f.Action))
	}
	if f.ActorDid != "" {
		fs = append(fs, db.FilterEq("actor_did", f.ActorDid))
	}
	if f.TargetDid != "" {
		fs = append(fs, db.FilterEq("target_did", f.TargetDid))
	}
	if f.Since != nil {
		fs = append(fs, db.FilterGte("timestamp", *f.Since))
	}
	if f.Until != nil {
		fs = append(fs, db.FilterLte("timestamp", *f.Until))
	}

	logs, err := db.ListAuditLogs(ctx, e.db, fs, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := db.CountAuditLogs(ctx, e.db, fs...)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
