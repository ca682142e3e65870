package membership_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/authz"
	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/identity"
	"ringhub.sh/ringhub/core/membership"
	"ringhub.sh/ringhub/core/profile"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
)

type fixture struct {
	db         *db.DB
	ringEngine *rings.Engine
	memEngine  *membership.Engine
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
	profileResolver := profile.New(nil, database, logger)

	return &fixture{
		db:         database,
		ringEngine: rings.New(database, enforcer, badgeSvc, limiter, "spool", logger),
		memEngine:  membership.New(database, enforcer, badgeSvc, profileResolver, logger),
	}
}

// seedActor inserts an Actor row with a pre-cached profile so Join's
// blocking profile.Ensure call is satisfied without resolving a DID
// document over the network.
func seedActor(t *testing.T, database *db.DB, did string) {
	t.Helper()

	p := &identity.Profile{ProfileURL: "https://" + did + ".example/profile", ActorName: did}
	b, err := json.Marshal(struct {
		Profile   *identity.Profile
		FetchedAt time.Time
	}{Profile: p, FetchedAt: time.Now().UTC()})
	require.NoError(t, err)
	meta := string(b)

	now := time.Now().UTC()
	require.NoError(t, db.InsertActor(context.Background(), database, &db.Actor{
		ID:           uuid.NewString(),
		Did:          did,
		Type:         db.ActorUser,
		DiscoveredAt: now,
		LastSeenAt:   now,
		Metadata:     &meta,
	}))
}

func TestJoinOpenRingCreatesActiveMembership(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")

	result, err := fx.memEngine.Join(ctx, ring, "did:web:bob.example", "")
	require.NoError(t, err)
	assert.False(t, result.RequiresApproval)
	assert.Equal(t, db.MembershipActive, result.Membership.Status)
}

func TestJoinApplicationPolicyRequiresApproval(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	application := db.JoinPolicyApplication
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", JoinPolicy: application})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")

	result, err := fx.memEngine.Join(ctx, ring, "did:web:bob.example", "let me in")
	require.NoError(t, err)
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, db.MembershipPending, result.Membership.Status)
}

func TestJoinClosedRingRejected(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	closed := db.JoinPolicyClosed
	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening", JoinPolicy: closed})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")

	_, err = fx.memEngine.Join(ctx, ring, "did:web:bob.example", "")
	require.Error(t, err)
}

func TestJoinAlreadyActiveMemberRejected(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	_, err = fx.memEngine.Join(ctx, ring, "did:web:owner.example", "")
	require.Error(t, err, "the ring owner is already an active member")
}

func TestLeaveRevokesMembership(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")
	_, err = fx.memEngine.Join(ctx, ring, "did:web:bob.example", "")
	require.NoError(t, err)

	reason := "moving on"
	require.NoError(t, fx.memEngine.Leave(ctx, ring, "did:web:bob.example", &reason))

	m, err := db.GetMembership(ctx, fx.db, ring.ID, "did:web:bob.example")
	require.NoError(t, err)
	assert.Equal(t, db.MembershipRevoked, m.Status)
	require.NotNil(t, m.LeaveReason)
	assert.Equal(t, "moving on", *m.LeaveReason)
}

func TestLeaveOwnerRequiresOwnershipTransferWhenOthersActive(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")
	_, err = fx.memEngine.Join(ctx, ring, "did:web:bob.example", "")
	require.NoError(t, err)

	err = fx.memEngine.Leave(ctx, ring, "did:web:owner.example", nil)
	require.Error(t, err)
}

func TestRemoveMemberRequiresOwner(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	seedActor(t, fx.db, "did:web:bob.example")
	_, err = fx.memEngine.Join(ctx, ring, "did:web:bob.example", "")
	require.NoError(t, err)

	err = fx.memEngine.RemoveMember(ctx, ring, "did:web:bob.example", "did:web:bob.example")
	require.Error(t, err, "only the owner may remove members")

	require.NoError(t, fx.memEngine.RemoveMember(ctx, ring, "did:web:owner.example", "did:web:bob.example"))
	m, err := db.GetMembership(ctx, fx.db, ring.ID, "did:web:bob.example")
	require.NoError(t, err)
	assert.Equal(t, db.MembershipRevoked, m.Status)
}

func TestInviteRejectsDuplicateForExistingMember(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	_, err = fx.memEngine.Invite(ctx, ring, "did:web:owner.example", "did:web:owner.example", "", 0)
	require.Error(t, err)
}

func TestInviteCreatesPendingInvitation(t *testing.T) {
	fx := setupFixture(t)
	ctx := context.Background()

	ring, err := fx.ringEngine.Create(ctx, "did:web:owner.example", rings.CreateInput{Name: "Gardening"})
	require.NoError(t, err)

	inv, err := fx.memEngine.Invite(ctx, ring, "did:web:owner.example", "did:web:carol.example", "welcome", 0)
	require.NoError(t, err)
	assert.Equal(t, db.InvitationPending, inv.Status)
	assert.True(t, inv.ExpiresAt.After(time.Now().UTC()))
}
