package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

func TestSessionRoundTripThroughFileStore(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	store := FileStore{Dir: t.TempDir()}

	s := New(store, "cli", log)
	require.NoError(t, s.SignIn("tok", "rt", model.User{ID: "u1", Name: "Awa", Role: "user"}))
	require.NoError(t, s.SetBranding(model.Settings{NomEntreprise: "Kocrou", Logo: "/logo.png"}, model.Theme{Primary: "#2563eb"}))

	loaded, err := Load(ctx, store, "cli", log)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.AccessToken())
	assert.Equal(t, "rt", loaded.RefreshToken())
	u, ok := loaded.User()
	require.True(t, ok)
	assert.Equal(t, "Awa", u.Name)
	snap := loaded.Snapshot()
	assert.Equal(t, "/logo.png", snap.Logo)
	assert.Equal(t, "#2563eb", snap.Theme.Primary)
}

func TestExpireKeepsBranding(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(NewMemoryStore(), "k", log)
	require.NoError(t, s.SignIn("tok", "rt", model.User{ID: "u1"}))
	require.NoError(t, s.SetBranding(model.Settings{NomEntreprise: "Kocrou"}, model.Theme{}))

	require.NoError(t, s.Expire())
	assert.False(t, s.LoggedIn())
	assert.Empty(t, s.RefreshToken())
	_, ok := s.User()
	assert.False(t, ok)
	assert.Equal(t, "Kocrou", s.Snapshot().Settings.NomEntreprise)
}

func TestClearDeletesStoredValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	log, _ := test.NewNullLogger()
	s := New(store, "k", log)
	require.NoError(t, s.SetAccessToken("tok"))
	require.NoError(t, s.Clear(ctx))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.LoggedIn())
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	log, hook := test.NewNullLogger()
	dir := t.TempDir()
	store := FileStore{Dir: dir}

	s, err := Load(ctx, store, "missing", log)
	require.NoError(t, err)
	assert.False(t, s.LoggedIn())

	require.NoError(t, store.Set(ctx, "bad", []byte("{not json")))
	s, err = Load(ctx, store, "bad", log)
	require.NoError(t, err)
	assert.False(t, s.LoggedIn())
	assert.NotEmpty(t, hook.Entries)
}

func TestFileStoreSanitizesKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := FileStore{Dir: dir}
	require.NoError(t, store.Set(ctx, "../escape", []byte("x")))

	_, err := os.Stat(filepath.Join(dir, ".._escape.json"))
	assert.NoError(t, err)
	got, err := store.Get(ctx, "../escape")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
	require.NoError(t, store.Delete(ctx, "../escape"))
	require.NoError(t, store.Delete(ctx, "../escape"))
}

func TestSealedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	sealed := NewSealedStore(inner, "correct horse")
	require.NoError(t, sealed.Set(ctx, "k", []byte(`{"token":"secret"}`)))

	raw, err := inner.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	got, err := sealed.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"secret"}`, string(got))

	_, err = NewSealedStore(inner, "wrong").Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSealBroken)

	// A value sealed with another key is dropped, not fatal.
	log, _ := test.NewNullLogger()
	s, err := Load(ctx, NewSealedStore(inner, "wrong"), "k", log)
	require.NoError(t, err)
	assert.False(t, s.LoggedIn())

	assert.Same(t, inner, NewSealedStore(inner, "").(*MemoryStore))
}
