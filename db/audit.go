package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type AuditLog struct {
	ID        string
	RingID    string
	Action    string
	ActorDid  string
	TargetDid *string
	Metadata  *string
	Timestamp time.Time
}

const auditColumns = `id, ring_id, action, actor_did, target_did, metadata, timestamp`

func scanAuditLog(row interface{ Scan(...interface{}) error }) (*AuditLog, error) {
	var a AuditLog
	var targetDid, metadata sql.NullString
	if err := row.Scan(&a.ID, &a.RingID, &a.Action, &a.ActorDid, &targetDid, &metadata, &a.Timestamp); err != nil {
		return nil, err
	}
	a.TargetDid = scanNullString(targetDid)
	a.Metadata = scanNullString(metadata)
	return &a, nil
}

func InsertAuditLog(ctx context.Context, x Execer, a *AuditLog) error {
	_, err := x.ExecContext(ctx, `insert into audit_logs (`+auditColumns+`) values (?,?,?,?,?,?,?)`,
		a.ID, a.RingID, a.Action, a.ActorDid, nullString(a.TargetDid), nullString(a.Metadata), a.Timestamp)
	return err
}

// InsertAuditLogsBatch writes multiple audit rows in one round trip, used
// by the author-global removal path so the audit trail for every affected
// ring lands in the same transaction as the removal.
func InsertAuditLogsBatch(ctx context.Context, x Execer, logs []*AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(logs))
	args := make([]interface{}, 0, len(logs)*7)
	for _, a := range logs {
		placeholders = append(placeholders, "(?,?,?,?,?,?,?)")
		args = append(args, a.ID, a.RingID, a.Action, a.ActorDid, nullString(a.TargetDid), nullString(a.Metadata), a.Timestamp)
	}
	_, err := x.ExecContext(ctx, `insert into audit_logs (`+auditColumns+`) values `+strings.Join(placeholders, ","), args...)
	return err
}

func ListAuditLogs(ctx context.Context, x Execer, filters []filter, limit, offset int) ([]*AuditLog, error) {
	where, args := buildWhere(filters...)
	q := fmt.Sprintf(`select %s from audit_logs %s order by timestamp desc limit ? offset ?`, auditColumns, where)
	args = append(args, limit, offset)
	rows, err := x.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func CountAuditLogs(ctx context.Context, x Execer, filters ...filter) (int, error) {
	where, args := buildWhere(filters...)
	var n int
	err := x.QueryRowContext(ctx, fmt.Sprintf(`select count(1) from audit_logs %s`, where), args...).Scan(&n)
	return n, err
}
