package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/db"
)

func setupDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newRing(slug, name string) *db.Ring {
	now := time.Now().UTC()
	return &db.Ring{
		ID:         uuid.NewString(),
		Slug:       slug,
		Name:       name,
		Visibility: db.VisibilityPublic,
		JoinPolicy: db.JoinPolicyOpen,
		PostPolicy: db.PostPolicyOpen,
		OwnerDid:   "did:web:alice.example",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestInsertAndGetRingBySlug(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	ring := newRing("gardening", "Gardening")
	require.NoError(t, db.InsertRing(ctx, database, ring))

	got, err := db.GetRingBySlug(ctx, database, "gardening")
	require.NoError(t, err)
	assert.Equal(t, ring.ID, got.ID)
	assert.Equal(t, "Gardening", got.Name)
}

func TestGetRingBySlugNotFound(t *testing.T) {
	database := setupDB(t)
	_, err := db.GetRingBySlug(context.Background(), database, "nonexistent")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestInsertRingDuplicateSlugFails(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRing(ctx, database, newRing("gardening", "Gardening")))
	err := db.InsertRing(ctx, database, newRing("gardening", "Gardening Again"))
	require.Error(t, err)
}

func TestListRingsFiltersByVisibility(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	pub := newRing("public-ring", "Public Ring")
	require.NoError(t, db.InsertRing(ctx, database, pub))

	priv := newRing("private-ring", "Private Ring")
	priv.Visibility = db.VisibilityPrivate
	require.NoError(t, db.InsertRing(ctx, database, priv))

	rings, err := db.ListRings(ctx, database, db.Filters(db.FilterEq("visibility", db.VisibilityPublic)), 10, 0)
	require.NoError(t, err)
	require.Len(t, rings, 1)
	assert.Equal(t, "public-ring", rings[0].Slug)

	count, err := db.CountRings(ctx, database, db.FilterEq("visibility", db.VisibilityPrivate))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateRingPersistsChanges(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	ring := newRing("gardening", "Gardening")
	require.NoError(t, db.InsertRing(ctx, database, ring))

	ring.Name = "Urban Gardening"
	ring.UpdatedAt = time.Now().UTC()
	require.NoError(t, db.UpdateRing(ctx, database, ring))

	got, err := db.GetRingByID(ctx, database, ring.ID)
	require.NoError(t, err)
	assert.Equal(t, "Urban Gardening", got.Name)
}

func TestDeleteRingRemovesRow(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	ring := newRing("gardening", "Gardening")
	require.NoError(t, db.InsertRing(ctx, database, ring))
	require.NoError(t, db.DeleteRing(ctx, database, ring.ID))

	_, err := db.GetRingByID(ctx, database, ring.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestChildRingsReturnsOnlyDirectChildren(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	parent := newRing("gardening", "Gardening")
	require.NoError(t, db.InsertRing(ctx, database, parent))

	child := newRing("urban-gardening", "Urban Gardening")
	child.ParentID = &parent.ID
	require.NoError(t, db.InsertRing(ctx, database, child))

	grandchild := newRing("balcony-gardening", "Balcony Gardening")
	grandchild.ParentID = &child.ID
	require.NoError(t, db.InsertRing(ctx, database, grandchild))

	children, err := db.ChildRings(ctx, database, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "urban-gardening", children[0].Slug)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := database.WithTx(ctx, func(tx *sql.Tx) error {
		if err := db.InsertRing(ctx, tx, newRing("gardening", "Gardening")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = db.GetRingBySlug(ctx, database, "gardening")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSlugExists(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	exists, err := db.SlugExists(ctx, database, "gardening")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, db.InsertRing(ctx, database, newRing("gardening", "Gardening")))

	exists, err = db.SlugExists(ctx, database, "gardening")
	require.NoError(t, err)
	assert.True(t, exists)
}
