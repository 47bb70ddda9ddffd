package txlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	store, err := New(&Config{})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.False(t, store.BlobsEnabled())
	require.True(t, store.Head().IsZero())

	t.Run("Test Name", func(t *testing.T) {
		require.Equal(t, "transaction log", store.Name())
	})

	t.Run("Blobs enabled", func(t *testing.T) {
		blobStore, err := New(&Config{Blobs: true})
		require.NoError(t, err)
		require.True(t, blobStore.BlobsEnabled())
	})
}

func TestStore_Commit(t *testing.T) {
	t.Parallel()

	store, err := New(&Config{})
	require.NoError(t, err)

	var last Tid
	for i := 0; i < 5; i++ {
		tid, err := store.Commit(&Transaction{
			User:    []byte("tester"),
			Changes: []Change{{Oid: Oid(i), Data: []byte("state")}},
		})
		require.NoError(t, err)
		require.Greater(t, tid, last, "tids must be strictly increasing")
		last = tid
	}
	require.Equal(t, last, store.Head())

	t.Run("defaults status and serials", func(t *testing.T) {
		txn := &Transaction{Changes: []Change{{Oid: 9}}}
		tid, err := store.Commit(txn)
		require.NoError(t, err)
		require.Equal(t, StatusNormal, txn.Status)
		require.Equal(t, tid, txn.Changes[0].Serial)
	})

	t.Run("rejects blobs on a plain store", func(t *testing.T) {
		_, err := store.Commit(&Transaction{Changes: []Change{{
			Oid:  1,
			Data: []byte("cur"),
			Blob: &Blob{Chunks: [][]byte{[]byte("chunk")}},
		}}})
		require.ErrorIs(t, err, ErrBlobsDisabled)
	})

	t.Run("refused after stop", func(t *testing.T) {
		closed, err := New(&Config{})
		require.NoError(t, err)
		require.NoError(t, closed.Stop())

		_, err = closed.Commit(&Transaction{})
		require.ErrorIs(t, err, ErrStoreClosed)
	})
}

func TestStore_Restore(t *testing.T) {
	t.Parallel()

	store, err := New(&Config{})
	require.NoError(t, err)

	require.NoError(t, store.Restore(&Transaction{ID: 10, Status: StatusNormal}))
	require.NoError(t, store.Restore(&Transaction{ID: 20, Status: StatusNormal}))
	require.Equal(t, Tid(20), store.Head())

	err = store.Restore(&Transaction{ID: 15})
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestIterator(t *testing.T) {
	t.Parallel()

	store, err := New(&Config{})
	require.NoError(t, err)

	var tids []Tid
	for i := 0; i < 3; i++ {
		tid, err := store.Commit(&Transaction{Description: []byte{byte('a' + i)}})
		require.NoError(t, err)
		tids = append(tids, tid)
	}

	t.Run("full replay in commit order", func(t *testing.T) {
		it := store.Iterate(0)
		for _, want := range tids {
			txn, err := it.Next(context.Background())
			require.NoError(t, err)
			require.Equal(t, want, txn.ID)
		}
		_, ok := it.TryNext()
		require.False(t, ok, "iterator should be caught up")
	})

	t.Run("resumes strictly after the given tid", func(t *testing.T) {
		it := store.Iterate(tids[0])
		txn, err := it.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, tids[1], txn.ID)
		require.Equal(t, tids[1], it.Pos())
	})

	t.Run("resume at head idles", func(t *testing.T) {
		it := store.Iterate(store.Head())
		_, ok := it.TryNext()
		require.False(t, ok)
	})
}

func TestIterator_Next_blocks(t *testing.T) {
	t.Parallel()

	t.Run("wakes on commit", func(t *testing.T) {
		t.Parallel()
		store, err := New(&Config{})
		require.NoError(t, err)

		it := store.Iterate(0)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = store.Commit(&Transaction{User: []byte("late")})
		}()

		txn, err := it.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, []byte("late"), txn.User)

		// Exactly once: the cursor is caught up again.
		_, ok := it.TryNext()
		require.False(t, ok)
	})

	t.Run("wakes on context cancellation", func(t *testing.T) {
		t.Parallel()
		store, err := New(&Config{})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err = store.Iterate(0).Next(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("wakes on store shutdown", func(t *testing.T) {
		t.Parallel()
		store, err := New(&Config{})
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = store.Stop()
		}()

		_, err = store.Iterate(0).Next(context.Background())
		require.ErrorIs(t, err, ErrStoreClosed)
	})
}

func TestTidBytes(t *testing.T) {
	t.Parallel()

	tid := Tid(0x0102030405060708)
	b := tid.Bytes()
	require.Len(t, b, 8)

	got, err := TidFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, tid, got)

	_, err = TidFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}
