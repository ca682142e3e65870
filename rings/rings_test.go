package rings_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/httperr"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
)

func setupEngine(t *testing.T) (*rings.Engine, *db.DB) {
	t.Helper()

	database, err := db.Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	enforcer, err := authz.NewEnforcer(":memory:")
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	badgeSvc := badges.New(database, priv, "https://ringhub.example", "Ring Hub", logger)
	limiter := ratelimit.New(database, ratelimit.DefaultTable())

	return rings.New(database, enforcer, badgeSvc, limiter, "spool", logger), database
}

func TestCreateAppliesDefaultsAndIssuesOwnerMembership(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()

	ring, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	assert.Equal(t, "gardening", ring.Slug)
	assert.Equal(t, db.VisibilityPublic, ring.Visibility)
	assert.Equal(t, db.JoinPolicyOpen, ring.JoinPolicy)
	assert.Equal(t, db.PostPolicyOpen, ring.PostPolicy)
	assert.Nil(t, ring.ParentID)

	memberships, err := db.ListMemberships(ctx, database, db.FilterEq("ring_id", ring.ID))
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "did:web:alice.example", memberships[0].ActorDid)
	assert.Equal(t, db.MembershipActive, memberships[0].Status)
}

func TestCreateRejectsMissingName(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{})
	require.Error(t, err)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	_, err = engine.Create(ctx, "did:web:bob.example", rings.CreateInput{Name: "Gardening", Slug: "gardening"})
	var herr *httperr.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, httperr.KindConflict, herr.Kind)
	assert.Equal(t, "SlugTaken", herr.Tag)
}

func TestForkParentsTheNewRing(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	parent, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	fork, err := engine.Fork(ctx, "did:web:bob.example", false, false, parent, rings.CreateInput{Name: "Urban Gardening"})
	require.NoError(t, err)

	require.NotNil(t, fork.ParentID)
	assert.Equal(t, parent.ID, *fork.ParentID)
}

func TestUpdateRejectsParentReassignmentWithoutOwnerOrAdmin(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	ring, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	otherSlug := "other"
	_, err = engine.Update(ctx, ring, "did:web:alice.example", false, rings.UpdateInput{ParentSlug: &otherSlug})
	require.Error(t, err)
}

func TestUpdateRejectsSelfParent(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	ring, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	selfSlug := ring.Slug
	_, err = engine.Update(ctx, ring, "did:web:alice.example", true, rings.UpdateInput{ParentSlug: &selfSlug})
	require.Error(t, err)
}

func TestUpdateAppliesNameChange(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	ring, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	newName := "Urban Gardening"
	updated, err := engine.Update(ctx, ring, "did:web:alice.example", false, rings.UpdateInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "Urban Gardening", updated.Name)
}

func TestDeleteRemovesRingAndRBACFootprint(t *testing.T) {
	engine, database := setupEngine(t)
	ctx := context.Background()

	ring, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, ring, "did:web:alice.example"))

	_, err = db.GetRingByID(ctx, database, ring.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTrendingOnlyReturnsPublicRings(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	private := db.VisibilityPrivate
	_, err = engine.Create(ctx, "did:web:bob.example", rings.CreateInput{Name: "Secret Club", Visibility: private})
	require.NoError(t, err)

	trending, err := engine.Trending(ctx, "day", 10)
	require.NoError(t, err)

	for _, r := range trending {
		assert.Equal(t, db.VisibilityPublic, r.Visibility)
	}
}

func TestStatsCountsCreatedRing(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "did:web:alice.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RingsByVisibility[string(db.VisibilityPublic)])
	assert.Equal(t, 1, stats.MembershipsActive)
}
