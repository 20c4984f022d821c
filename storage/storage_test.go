package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/storage"
)

func openBackend(t *testing.T, backend string) storage.DB {
	t.Helper()
	db, err := storage.Open(backend, filepath.Join(t.TempDir(), "data", "chain"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var backends = []string{storage.BackendLevelDB, storage.BackendBolt}

func TestBackendKV(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := openBackend(t, backend)

			_, err := db.Get([]byte("missing"))
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, db.Set([]byte("a:1"), []byte("one")))
			require.NoError(t, db.Set([]byte("a:2"), []byte("two")))
			require.NoError(t, db.Set([]byte("b:1"), []byte("other")))

			v, err := db.Get([]byte("a:1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), v)

			it := db.NewIterator([]byte("a:"))
			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			it.Release()
			require.NoError(t, it.Error())
			assert.Equal(t, []string{"a:1", "a:2"}, keys)

			require.NoError(t, db.Delete([]byte("a:1")))
			_, err = db.Get([]byte("a:1"))
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestBackendBatch(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := openBackend(t, backend)
			require.NoError(t, db.Set([]byte("gone"), []byte("x")))

			b := db.NewBatch()
			b.Set([]byte("k1"), []byte("v1"))
			b.Delete([]byte("gone"))

			_, err := db.Get([]byte("k1"))
			assert.ErrorIs(t, err, core.ErrNotFound, "batch is not visible before Write")

			require.NoError(t, b.Write())
			v, err := db.Get([]byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), v)
			_, err = db.Get([]byte("gone"))
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := storage.Open("redis", t.TempDir())
	assert.Error(t, err)
}

func TestStateDBSnapshotRevert(t *testing.T) {
	s := storage.NewStateDB(openBackend(t, storage.BackendBolt))

	require.NoError(t, s.SetAccount(&core.Account{Address: "alice", Balance: 10}))
	snap, err := s.Snapshot()
	require.NoError(t, err)

	require.NoError(t, s.SetAccount(&core.Account{Address: "alice", Balance: 3}))
	require.NoError(t, s.SetGame(&core.Game{ID: "chess"}))
	nested, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetResolver("bob", true))

	require.NoError(t, s.RevertToSnapshot(nested))
	ok, err := s.IsResolver("bob")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetGame("chess")
	require.NoError(t, err)

	require.NoError(t, s.RevertToSnapshot(snap))
	acc, err := s.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acc.Balance)
	_, err = s.GetGame("chess")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Error(t, s.RevertToSnapshot(nested), "later snapshots are dropped")
}

func TestStateDBZeroValues(t *testing.T) {
	s := storage.NewStateDB(openBackend(t, storage.BackendLevelDB))

	acc, err := s.GetAccount("nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", acc.Address)
	assert.Zero(t, acc.Balance)

	e, err := s.GetEarnings("chess")
	require.NoError(t, err)
	assert.Equal(t, "chess", e.GameID)

	rev, err := s.GetRevenue()
	require.NoError(t, err)
	assert.Zero(t, rev.Treasury)

	_, err = s.GetMatch("m")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetConsumer("c")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetMatchByExternal("chess", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestComputeRootMatchesAcrossBackends(t *testing.T) {
	fill := func(s *storage.StateDB) {
		require.NoError(t, s.SetAccount(&core.Account{Address: "alice", Balance: 7}))
		require.NoError(t, s.SetGame(&core.Game{ID: "chess", StakedAmount: 10}))
		require.NoError(t, s.SetRevenue(&core.Revenue{Treasury: 3}))
	}

	level := storage.NewStateDB(openBackend(t, storage.BackendLevelDB))
	bolt := storage.NewStateDB(openBackend(t, storage.BackendBolt))
	fill(level)
	fill(bolt)
	root := level.ComputeRoot()
	assert.Equal(t, root, bolt.ComputeRoot())

	// Committing moves the buffer to disk without changing the root.
	require.NoError(t, level.Commit())
	assert.Equal(t, root, level.ComputeRoot())

	require.NoError(t, level.SetRevenue(&core.Revenue{Treasury: 4}))
	assert.NotEqual(t, root, level.ComputeRoot())
}

func TestBlockStoreRoundTrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bs := storage.NewBlockStore(openBackend(t, storage.BackendBolt))

	tip, err := bs.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	block := core.NewBlock(1, "prev", priv.Public().Hex(), 42, nil)
	block.Seal(priv)
	require.NoError(t, bs.CommitBlock(block))

	tip, err = bs.GetTip()
	require.NoError(t, err)
	assert.Equal(t, block.Hash, tip)

	got, err := bs.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, got.Hash)
	assert.Equal(t, int64(42), got.Header.Timestamp)
	require.NoError(t, got.CheckSeal(priv.Public()))
}
