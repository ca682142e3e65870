package badges_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/badges"
	"ringhub.sh/ringhub/core/db"
)

func setupService(t *testing.T) (*badges.Service, *db.DB, ed25519.PrivateKey) {
	t.Helper()

	database, err := db.Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return badges.New(database, priv, "https://ringhub.example", "Ring Hub", logger), database, priv
}

func seedMembership(t *testing.T, database *db.DB) string {
	t.Helper()
	m := &db.Membership{
		ID:       uuid.NewString(),
		RingID:   uuid.NewString(),
		ActorDid: "did:web:alice.example",
		Status:   db.MembershipActive,
	}
	require.NoError(t, db.InsertMembership(context.Background(), database, m))
	return m.ID
}

func TestIssueProducesVerifiableBadge(t *testing.T) {
	svc, database, _ := setupService(t)
	ctx := context.Background()

	membershipID := seedMembership(t, database)
	name := "Alice"
	badge, err := svc.Issue(ctx, database, membershipID, "did:web:alice.example", "gardening", "Gardening", "owner", &name)
	require.NoError(t, err)
	require.NotEmpty(t, badge.ID)

	valid, cred, err := svc.Verify(ctx, badge.ID)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "did:web:alice.example", cred.CredentialSubject.ID)
	assert.Contains(t, cred.Type, "OpenBadgeCredential")

	m, err := db.GetMembershipByID(ctx, database, membershipID)
	require.NoError(t, err)
	require.NotNil(t, m.BadgeID)
	assert.Equal(t, badge.ID, *m.BadgeID)
}

func TestVerifyRejectsRevokedBadge(t *testing.T) {
	svc, database, _ := setupService(t)
	ctx := context.Background()

	membershipID := seedMembership(t, database)
	badge, err := svc.Issue(ctx, database, membershipID, "did:web:alice.example", "gardening", "Gardening", "owner", nil)
	require.NoError(t, err)

	reason := "membership left"
	require.NoError(t, svc.Revoke(ctx, badge.ID, &reason))

	valid, _, err := svc.Verify(ctx, badge.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyRejectsTamperedCredential(t *testing.T) {
	svc, database, _ := setupService(t)
	ctx := context.Background()

	membershipID := seedMembership(t, database)
	badge, err := svc.Issue(ctx, database, membershipID, "did:web:alice.example", "gardening", "Gardening", "owner", nil)
	require.NoError(t, err)

	stored, err := db.GetBadge(ctx, database, badge.ID)
	require.NoError(t, err)
	stored.BadgeData = stored.BadgeData[:len(stored.BadgeData)-3] + "XX\"}}"
	require.NoError(t, db.UpdateBadge(ctx, database, stored))

	valid, _, err := svc.Verify(ctx, badge.ID)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestListByActorReturnsIssuedBadges(t *testing.T) {
	svc, database, _ := setupService(t)
	ctx := context.Background()

	membershipID := seedMembership(t, database)
	_, err := svc.Issue(ctx, database, membershipID, "did:web:alice.example", "gardening", "Gardening", "owner", nil)
	require.NoError(t, err)

	badgeList, err := svc.ListByActor(ctx, "did:web:alice.example")
	require.NoError(t, err)
	require.Len(t, badgeList, 1)
}
