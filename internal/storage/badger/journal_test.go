package badger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

func openInMemory(t *testing.T) *badgerdb.DB {
	t.Helper()
	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func item(n int) crawler.WorkItem {
	return crawler.WorkItem{
		URL:    fmt.Sprintf("https://shop.test/dp/B%09d", n),
		Label:  crawler.LabelProduct,
		Domain: "shop.test",
	}
}

func TestJournalMarkIfNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, err := New(openInMemory(t), "run-1", nil)
	require.NoError(t, err)

	fresh, err := j.MarkIfNew(ctx, item(1))
	require.NoError(t, err)
	require.True(t, fresh)
	fresh, err = j.MarkIfNew(ctx, item(1))
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestJournalPendingOrderAndSettle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, err := New(openInMemory(t), "run-1", nil)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, err := j.MarkIfNew(ctx, item(i))
		require.NoError(t, err)
	}
	require.NoError(t, j.Settle(ctx, item(2)))
	require.NoError(t, j.Update(ctx, item(3).Retry()))

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, item(1), pending[0])
	require.Equal(t, item(3).Retry(), pending[1])
	require.Equal(t, item(4), pending[2])

	fresh, err := j.MarkIfNew(ctx, item(2))
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestJournalScopesByRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openInMemory(t)
	first, err := New(db, "run-1", nil)
	require.NoError(t, err)
	second, err := New(db, "run-2", nil)
	require.NoError(t, err)

	_, err = first.MarkIfNew(ctx, item(1))
	require.NoError(t, err)
	fresh, err := second.MarkIfNew(ctx, item(1))
	require.NoError(t, err)
	require.True(t, fresh)

	pending, err := first.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, first.Close())
}

func TestJournalConcurrentMarks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, err := New(openInMemory(t), "run-1", nil)
	require.NoError(t, err)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, markErr := j.MarkIfNew(ctx, item(1))
			if markErr == nil && ok {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), fresh.Load())
}

func TestJournalValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "run-1", nil)
	require.Error(t, err)
	_, err = New(openInMemory(t), "", nil)
	require.Error(t, err)
	_, err = Open("", "run-1", nil)
	require.Error(t, err)
}

func TestJournalOpenOnDisk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	j, err := Open(dir, "run-1", nil)
	require.NoError(t, err)
	_, err = j.MarkIfNew(ctx, item(1))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(dir, "run-1", nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	pending, err := reopened.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.WorkItem{item(1)}, pending)
}
