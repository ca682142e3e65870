package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/audit"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/pagination"
)

func setupEngine(t *testing.T) (*audit.Engine, *db.DB) {
	t.Helper()

	database, err := db.Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return audit.New(database), database
}

func insertLog(t *testing.T, database *db.DB, ringID, action, actorDid string, target *string, ts time.Time) {
	t.Helper()
	require.NoError(t, db.InsertAuditLog(context.Background(), database, &db.AuditLog{
		ID:        uuid.NewString(),
		RingID:    ringID,
		Action:    action,
		ActorDid:  actorDid,
		TargetDid: target,
		Timestamp: ts,
	}))
}

func TestListFiltersByAction(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()
	ringID := uuid.NewString()
	now := time.Now().UTC()

	insertLog(t, database, ringID, "ring.created", "did:web:alice.example", nil, now)
	insertLog(t, database, ringID, "membership.joined", "did:web:bob.example", nil, now.Add(time.Minute))

	logs, total, err := engine.List(ctx, ringID, audit.Filter{Action: "ring.created"}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "ring.created", logs[0].Action)
}

func TestListScopesToRing(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ringA := uuid.NewString()
	ringB := uuid.NewString()
	insertLog(t, database, ringA, "ring.created", "did:web:alice.example", nil, now)
	insertLog(t, database, ringB, "ring.created", "did:web:bob.example", nil, now)

	logs, total, err := engine.List(ctx, ringA, audit.Filter{}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, ringA, logs[0].RingID)
}

func TestListFiltersBySinceWindow(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()
	ringID := uuid.NewString()
	base := time.Now().UTC()

	insertLog(t, database, ringID, "ring.created", "did:web:alice.example", nil, base.Add(-time.Hour))
	insertLog(t, database, ringID, "ring.updated", "did:web:alice.example", nil, base)

	since := base.Add(-time.Minute)
	logs, total, err := engine.List(ctx, ringID, audit.Filter{Since: &since}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "ring.updated", logs[0].Action)
}

func TestListFiltersByTargetDid(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()
	ringID := uuid.NewString()
	now := time.Now().UTC()
	target := "did:web:carol.example"

	insertLog(t, database, ringID, "membership.removed", "did:web:alice.example", &target, now)
	insertLog(t, database, ringID, "membership.joined", "did:web:dave.example", nil, now)

	logs, total, err := engine.List(ctx, ringID, audit.Filter{TargetDid: target}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "membership.removed", logs[0].Action)
}
