package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

type journalEntry struct {
	item crawler.WorkItem
	done bool
}

// Journal is a process-local crawler.Journal. It dedups fetch targets for a
// single run but does not survive restarts.
type Journal struct {
	mu      sync.Mutex
	entries map[string]*journalEntry
	order   []string
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{entries: make(map[string]*journalEntry)}
}

// MarkIfNew implements crawler.Journal.
func (j *Journal) MarkIfNew(_ context.Context, item crawler.WorkItem) (bool, error) {
	key := item.Key()
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[key]; ok {
		return false, nil
	}
	j.entries[key] = &journalEntry{item: item}
	j.order = append(j.order, key)
	return true, nil
}

// Update implements crawler.Journal.
func (j *Journal) Update(_ context.Context, item crawler.WorkItem) error {
	key := item.Key()
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry, ok := j.entries[key]; ok {
		entry.item = item
		return nil
	}
	j.entries[key] = &journalEntry{item: item}
	j.order = append(j.order, key)
	return nil
}

// Settle implements crawler.Journal.
func (j *Journal) Settle(_ context.Context, item crawler.WorkItem) error {
	key := item.Key()
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.entries[key]
	if !ok {
		entry = &journalEntry{item: item}
		j.entries[key] = entry
		j.order = append(j.order, key)
	}
	entry.done = true
	return nil
}

// Pending implements crawler.Journal.
func (j *Journal) Pending(_ context.Context) ([]crawler.WorkItem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var items []crawler.WorkItem
	for _, key := range j.order {
		if entry := j.entries[key]; !entry.done {
			items = append(items, entry.item)
		}
	}
	return items, nil
}
