package filestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadSave(t *testing.T) {
	t.Run("Should return an empty entry when nothing was stored", func(t *testing.T) {
		store := New(afero.NewMemMapFs(), "/ledger")
		entry, err := store.Load(context.Background(), ledger.Key{NetworkID: "1", Module: "m"})
		require.NoError(t, err)
		assert.Empty(t, entry.Elements)
	})

	t.Run("Should keep other modules of the same network on save", func(t *testing.T) {
		ctx := context.Background()
		store := New(afero.NewMemMapFs(), "/ledger")

		first := ledger.NewEntry()
		first.Elements["A"] = &ledger.Record{Type: ledger.ElementTypeBinding, Name: "A"}
		require.NoError(t, store.Save(ctx, ledger.Key{NetworkID: "1", Module: "first"}, first))

		second := ledger.NewEntry()
		second.Elements["B"] = &ledger.Record{Type: ledger.ElementTypeBinding, Name: "B"}
		require.NoError(t, store.Save(ctx, ledger.Key{NetworkID: "1", Module: "second"}, second))

		loaded, err := store.Load(ctx, ledger.Key{NetworkID: "1", Module: "first"})
		require.NoError(t, err)
		assert.Contains(t, loaded.Elements, "A")

		other, err := store.Load(ctx, ledger.Key{NetworkID: "2", Module: "first"})
		require.NoError(t, err)
		assert.Empty(t, other.Elements)
	})

	t.Run("Should fail on a corrupt ledger file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/ledger/1.json", []byte("{"), 0644))
		store := New(fs, "/ledger")

		_, err := store.Load(context.Background(), ledger.Key{NetworkID: "1", Module: "m"})
		require.Error(t, err)
	})
}

func TestStore_Lock(t *testing.T) {
	t.Run("Should exclude a second run on the same ledger file", func(t *testing.T) {
		dir := t.TempDir()
		store := New(afero.NewOsFs(), filepath.Join(dir, "ledger"))
		other := New(afero.NewOsFs(), filepath.Join(dir, "ledger"))

		unlock, err := store.Lock(context.Background(), "1", 0)
		require.NoError(t, err)

		_, err = other.Lock(context.Background(), "1", 0)
		require.ErrorIs(t, err, ErrLocked)

		require.NoError(t, unlock())

		unlockAgain, err := other.Lock(context.Background(), "1", 0)
		require.NoError(t, err)
		require.NoError(t, unlockAgain())
	})

	t.Run("Should keep the lock of an in-memory ledger off the disk", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "ledger")
		fs := afero.NewMemMapFs()
		store := New(fs, dir)
		other := New(fs, dir)

		unlock, err := store.Lock(context.Background(), "1", 0)
		require.NoError(t, err)
		assert.NoDirExists(t, dir)

		_, err = other.Lock(context.Background(), "1", 10*time.Millisecond)
		require.ErrorIs(t, err, ErrLocked)

		unlockElsewhere, err := New(afero.NewMemMapFs(), dir).Lock(context.Background(), "1", 0)
		require.NoError(t, err)
		require.NoError(t, unlockElsewhere())

		require.NoError(t, unlock())

		unlockAgain, err := other.Lock(context.Background(), "1", 0)
		require.NoError(t, err)
		require.NoError(t, unlockAgain())
	})
}
