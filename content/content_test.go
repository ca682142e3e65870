package content_test

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
	"ringhub.sh/ringhub/core/content"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/pagination"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
)

type fixture struct {
	db         *db.DB
	ringEngine *rings.Engine
	engine     *content.Engine
}

func setupFixture(t *testing.T) *fixture {
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

	return &fixture{
		db:         database,
		ringEngine: rings.New(database, enforcer, badgeSvc, limiter, "spool", logger),
		engine:     content.New(database),
	}
}

func TestSubmitOpenRingAutoAccepts(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	post, err := fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, db.PostAccepted, post.Status)
	assert.NotEmpty(t, post.Digest)
}

func TestSubmitCuratedRingHoldsPending(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	curated := db.PostPolicyCurated
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: curated})
	require.NoError(t, err)

	post, err := fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, db.PostPending, post.Status)
}

func TestSubmitMembersOnlyRejectsNonMember(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	membersOnly := db.PostPolicyMembers
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: membersOnly})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.Error(t, err)

	post, err := fx.engine.Submit(ctx, ring, "did:web:alice.example", false, true, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, db.PostAccepted, post.Status)
}

func TestSubmitClosedRingRejected(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	closed := db.PostPolicyClosed
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: closed})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1"})
	require.Error(t, err)
}

func TestSubmitDuplicateURIConflicts(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.Error(t, err)
}

func TestFeedHidesNonAcceptedFromNonMembers(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	curated := db.PostPolicyCurated
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: curated})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)

	posts, total, err := fx.engine.Feed(ctx, []string{ring.ID}, false, false, content.FeedFilter{}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, posts)

	posts, total, err = fx.engine.Feed(ctx, []string{ring.ID}, true, true, content.FeedFilter{}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, posts, 1)
}

func TestQueueReturnsOnlyPending(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	curated := db.PostPolicyCurated
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: curated})
	require.NoError(t, err)

	_, err = fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)

	pending, err := fx.engine.Queue(ctx, ring.ID, pagination.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, db.PostPending, pending[0].Status)
}

func TestCurateAsModeratorAccepts(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	curated := db.PostPolicyCurated
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", PostPolicy: curated})
	require.NoError(t, err)

	post, err := fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)

	result, err := fx.engine.CurateAsModerator(ctx, "did:web:owner.example", post, content.ActionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, db.PostAccepted, result.Post.Status)
	assert.Equal(t, []string{ring.ID}, result.AffectedRings)
}

func TestCurateAsAuthorOnlySupportsRemove(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	post, err := fx.engine.Submit(ctx, ring, "did:web:alice.example", false, false, content.SubmitInput{URI: "at://alice/post/1", Raw: []byte("hello")})
	require.NoError(t, err)

	_, err = fx.engine.CurateAsAuthor(ctx, "did:web:alice.example", post, content.ActionAccept, "")
	require.Error(t, err)

	result, err := fx.engine.CurateAsAuthor(ctx, "did:web:alice.example", post, content.ActionRemove, "not relevant anymore")
	require.NoError(t, err)
	assert.Equal(t, db.PostRemoved, result.Post.Status)
	assert.Contains(t, result.AffectedRings, ring.ID)
}
