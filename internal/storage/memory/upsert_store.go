// Package memory provides in-process stores for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

// UpsertStore implements crawler.Upserter and crawler.EnrichmentQueue with
// the same conflict semantics as the Postgres store.
type UpsertStore struct {
	mu       sync.RWMutex
	tables   map[string]map[string]crawler.Row
	enriched []string
}

// NewUpsertStore returns an empty store.
func NewUpsertStore() *UpsertStore {
	return &UpsertStore{tables: make(map[string]map[string]crawler.Row)}
}

// Upsert inserts the row or rewrites its refresh columns when the conflict
// key already exists.
func (s *UpsertStore) Upsert(_ context.Context, req crawler.UpsertRequest) error {
	raw, ok := req.Row[req.ConflictKey]
	if !ok {
		return fmt.Errorf("row for %s lacks conflict key %q", req.Table, req.ConflictKey)
	}
	key := fmt.Sprint(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[req.Table]
	if !ok {
		table = make(map[string]crawler.Row)
		s.tables[req.Table] = table
	}
	existing, ok := table[key]
	if !ok {
		table[key] = copyRow(req.Row)
		return nil
	}
	for _, col := range req.Refresh {
		if v, ok := req.Row[col]; ok {
			existing[col] = v
		}
	}
	return nil
}

// QueueSellerForEnrichment records the seller ID.
func (s *UpsertStore) QueueSellerForEnrichment(_ context.Context, sellerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enriched = append(s.enriched, sellerID)
	return nil
}

// Rows returns copies of a table's rows ordered by conflict key.
func (s *UpsertStore) Rows(table string) []crawler.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.tables[table]))
	for k := range s.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]crawler.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, copyRow(s.tables[table][k]))
	}
	return rows
}

// Count returns the number of rows in table.
func (s *UpsertStore) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Enriched returns the seller IDs queued for enrichment, in call order.
func (s *UpsertStore) Enriched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.enriched...)
}

func copyRow(row crawler.Row) crawler.Row {
	out := make(crawler.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
