// Package badger persists the work-queue journal in an embedded Badger
// database so an interrupted run can resume its pending items.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-crawler/internal/hash/sha256"
)

const (
	statePending = "pending"
	stateDone    = "done"

	maxConflictRetries = 5
)

type entry struct {
	Item  crawler.WorkItem `json:"item"`
	State string           `json:"state"`
	Seq   uint64           `json:"seq"`
}

// Journal implements crawler.Journal on Badger. Keys are namespaced by run ID:
// run:<runID>:item:<digest of the fetch identity>.
type Journal struct {
	db     *badgerdb.DB
	prefix []byte
	hasher crawler.Hasher
	seq    atomic.Uint64
	owned  bool
}

// Open opens (or creates) a Badger database at path and returns a journal
// scoped to runID. Close releases the database.
func Open(path, runID string, hasher crawler.Hasher) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	db, err := badgerdb.Open(badgerdb.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	j, err := New(db, runID, hasher)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badgerdb.DB, runID string, hasher crawler.Hasher) (*Journal, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	j := &Journal{
		db:     db,
		prefix: []byte(fmt.Sprintf("run:%s:item:", runID)),
		hasher: hasher,
	}
	j.seq.Store(uint64(time.Now().UnixNano()))
	return j, nil
}

// Close releases the database when the journal opened it.
func (j *Journal) Close() error {
	if !j.owned {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// MarkIfNew implements crawler.Journal.
func (j *Journal) MarkIfNew(ctx context.Context, item crawler.WorkItem) (bool, error) {
	key, err := j.key(item)
	if err != nil {
		return false, err
	}
	fresh := false
	err = j.update(ctx, func(txn *badgerdb.Txn) error {
		fresh = false
		_, getErr := txn.Get(key)
		switch {
		case getErr == nil:
			return nil
		case !errors.Is(getErr, badgerdb.ErrKeyNotFound):
			return getErr
		}
		fresh = true
		return j.put(txn, key, entry{Item: item, State: statePending, Seq: j.seq.Add(1)})
	})
	if err != nil {
		return false, fmt.Errorf("mark item: %w", err)
	}
	return fresh, nil
}

// Update implements crawler.Journal.
func (j *Journal) Update(ctx context.Context, item crawler.WorkItem) error {
	return j.rewrite(ctx, item, statePending)
}

// Settle implements crawler.Journal.
func (j *Journal) Settle(ctx context.Context, item crawler.WorkItem) error {
	return j.rewrite(ctx, item, stateDone)
}

// Pending implements crawler.Journal. Items come back in enqueue order.
func (j *Journal) Pending(ctx context.Context) ([]crawler.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var entries []entry
	err := j.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(j.prefix); it.ValidForPrefix(j.prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if e.State == statePending {
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	items := make([]crawler.WorkItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Item)
	}
	return items, nil
}

func (j *Journal) rewrite(ctx context.Context, item crawler.WorkItem, state string) error {
	key, err := j.key(item)
	if err != nil {
		return err
	}
	err = j.update(ctx, func(txn *badgerdb.Txn) error {
		e := entry{Item: item, State: state}
		existing, getErr := txn.Get(key)
		switch {
		case getErr == nil:
			var prev entry
			if err := existing.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err != nil {
				return err
			}
			e.Seq = prev.Seq
		case errors.Is(getErr, badgerdb.ErrKeyNotFound):
			e.Seq = j.seq.Add(1)
		default:
			return getErr
		}
		return j.put(txn, key, e)
	})
	if err != nil {
		return fmt.Errorf("write %s item: %w", state, err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (j *Journal) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = j.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

func (j *Journal) put(txn *badgerdb.Txn, key []byte, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return txn.Set(key, data)
}

func (j *Journal) key(item crawler.WorkItem) ([]byte, error) {
	digest, err := j.hasher.Hash([]byte(item.Key()))
	if err != nil {
		return nil, fmt.Errorf("hash item key: %w", err)
	}
	key := make([]byte, 0, len(j.prefix)+len(digest))
	key = append(key, j.prefix...)
	return append(key, digest...), nil
}
