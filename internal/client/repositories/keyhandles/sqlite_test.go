package keyhandles

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/repositories"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := repositories.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "kh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db)
}

func row(user, key string) *Row {
	return &Row{
		UserID:    user,
		KeyID:     key,
		DoctorID:  "d1",
		PatientID: "p1",
		SealedKey: []byte("sealed-" + key),
		Nonce:     []byte("nonce-" + key),
		StoredAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsertGetAndOverwrite(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, row("d1", "k1")))

	got, err := r.Get(ctx, "d1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-k1"), got.SealedKey)
	assert.Equal(t, "p1", got.PatientID)

	updated := row("d1", "k1")
	updated.SealedKey = []byte("other")
	require.NoError(t, r.Upsert(ctx, updated))

	got, err = r.Get(ctx, "d1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), got.SealedKey)
}

func TestGet_Missing(t *testing.T) {
	r := setupRepo(t)
	_, err := r.Get(context.Background(), "d1", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListExistsAndDelete(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, row("d1", "k1")))
	require.NoError(t, r.Upsert(ctx, row("d1", "k2")))
	require.NoError(t, r.Upsert(ctx, row("p9", "k3")))

	list, err := r.ListByUser(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "k1", list[0].KeyID)
	assert.Equal(t, "k2", list[1].KeyID)

	ok, err := r.Exists(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.Delete(ctx, "d1", "k1"))
	list, err = r.ListByUser(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, r.DeleteByUser(ctx, "d1"))
	ok, err = r.Exists(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Exists(ctx, "p9")
	require.NoError(t, err)
	assert.True(t, ok)
}
