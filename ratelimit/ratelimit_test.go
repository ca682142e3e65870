package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/ratelimit"
)

func setupLimiter(t *testing.T) (*ratelimit.Limiter, *db.DB) {
	t.Helper()

	database, err := db.Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return ratelimit.New(database, ratelimit.DefaultTable()), database
}

func seedActor(t *testing.T, database *db.DB, did string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.InsertActor(context.Background(), database, &db.Actor{
		ID:           uuid.NewString(),
		Did:          did,
		Type:         db.ActorUser,
		DiscoveredAt: now,
		LastSeenAt:   now,
	}))
}

func TestPrecheckAllowsAdminUnconditionally(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Precheck(ctx, "did:web:alice.example", true, false, "fork_ring"))
}

func TestPrecheckEnforcesHourlyQuotaForNewTier(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Precheck(ctx, "did:web:alice.example", false, false, "fork_ring"))
	require.NoError(t, limiter.Record(ctx, "did:web:alice.example", "fork_ring", nil))

	err := limiter.Precheck(ctx, "did:web:alice.example", false, false, "fork_ring")
	require.Error(t, err, "new tier is capped at one fork_ring per hour")
}

func TestPrecheckAllowsTrustedCallerBypass(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Record(ctx, "did:web:alice.example", "fork_ring", nil))
	require.NoError(t, limiter.Precheck(ctx, "did:web:alice.example", false, true, "fork_ring"))
}

func TestRecordingViolationsEventuallyFlagsAndCoolsDown(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Record(ctx, "did:web:alice.example", "fork_ring", nil))
	for i := 0; i < 3; i++ {
		_ = limiter.Precheck(ctx, "did:web:alice.example", false, false, "fork_ring")
	}

	flagged, err := limiter.ListFlagged(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "did:web:alice.example", flagged[0].ActorDid)
	assert.True(t, flagged[0].FlaggedForReview)
	require.NotNil(t, flagged[0].CooldownUntil)

	err = limiter.Precheck(ctx, "did:web:alice.example", false, false, "fork_ring")
	require.Error(t, err, "an active cooldown blocks further actions regardless of quota")
}

func TestClearViolationsResetsFlagAndCooldown(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.Record(ctx, "did:web:alice.example", "fork_ring", nil))
	for i := 0; i < 3; i++ {
		_ = limiter.Precheck(ctx, "did:web:alice.example", false, false, "fork_ring")
	}

	require.NoError(t, limiter.ClearViolations(ctx, "did:web:alice.example"))

	flagged, err := limiter.ListFlagged(ctx)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestApplyCooldownValidatesRange(t *testing.T) {
	limiter, _ := setupLimiter(t)
	ctx := context.Background()

	require.Error(t, limiter.ApplyCooldown(ctx, "did:web:alice.example", 0))
	require.Error(t, limiter.ApplyCooldown(ctx, "did:web:alice.example", 200))
	require.NoError(t, limiter.ApplyCooldown(ctx, "did:web:alice.example", 24))
}

func TestSetAdminRejectsSelfRevoke(t *testing.T) {
	limiter, database := setupLimiter(t)
	ctx := context.Background()

	seedActor(t, database, "did:web:alice.example")

	err := limiter.SetAdmin(ctx, "did:web:alice.example", "did:web:alice.example", false)
	require.Error(t, err)

	require.NoError(t, limiter.SetAdmin(ctx, "did:web:root.example", "did:web:alice.example", true))
	actor, err := db.GetActorByDid(ctx, database, "did:web:alice.example")
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin)
}

func TestTableExposesConfiguredQuotas(t *testing.T) {
	limiter, _ := setupLimiter(t)
	assert.NotNil(t, limiter.Table())
	assert.Contains(t, limiter.Table().Actions, "fork_ring")
}
