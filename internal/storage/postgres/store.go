// Package postgres provides the relational upsert store backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/storefront-crawler/internal/crawler"
)

var (
	validIdentifier   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	validFunctionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)
)

// DefaultEnrichmentFunction is the stored procedure that queues a seller for enrichment.
const DefaultEnrichmentFunction = "queue_seller_for_enrichment"

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// EnrichmentFunction is called with the seller ID after each persisted
	// bundle. Empty disables the hook.
	EnrichmentFunction string
}

type execPinger interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Upserter and crawler.EnrichmentQueue.
type Store struct {
	pool     execPinger
	enrichFn string
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if err := validateFunction(cfg.EnrichmentFunction); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, enrichFn: cfg.EnrichmentFunction}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execPinger, enrichmentFunction string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if err := validateFunction(enrichmentFunction); err != nil {
		return nil, err
	}
	return &Store{pool: pool, enrichFn: enrichmentFunction}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Upsert inserts the row or, on a conflict-key hit, rewrites only the
// refresh columns.
func (s *Store) Upsert(ctx context.Context, req crawler.UpsertRequest) error {
	query, args, err := BuildUpsert(req)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", req.Table, err)
	}
	return nil
}

// QueueSellerForEnrichment invokes the configured enrichment function.
func (s *Store) QueueSellerForEnrichment(ctx context.Context, sellerID string) error {
	if s.enrichFn == "" {
		return nil
	}
	query := fmt.Sprintf("SELECT %s($1)", s.enrichFn)
	if _, err := s.pool.Exec(ctx, query, sellerID); err != nil {
		return fmt.Errorf("queue seller %s for enrichment: %w", sellerID, err)
	}
	return nil
}

// BuildUpsert renders req as an INSERT ... ON CONFLICT statement. Columns are
// emitted in sorted order so the statement text is stable.
func BuildUpsert(req crawler.UpsertRequest) (string, []any, error) {
	if !validIdentifier.MatchString(req.Table) {
		return "", nil, fmt.Errorf("invalid table name %q", req.Table)
	}
	if !validIdentifier.MatchString(req.ConflictKey) {
		return "", nil, fmt.Errorf("invalid conflict key %q", req.ConflictKey)
	}
	if _, ok := req.Row[req.ConflictKey]; !ok {
		return "", nil, fmt.Errorf("row for %s lacks conflict key %q", req.Table, req.ConflictKey)
	}

	columns := make([]string, 0, len(req.Row))
	for col := range req.Row {
		if !validIdentifier.MatchString(col) {
			return "", nil, fmt.Errorf("invalid column name %q", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = req.Row[col]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		req.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "), req.ConflictKey)
	if len(req.Refresh) == 0 {
		b.WriteString("DO NOTHING")
		return b.String(), args, nil
	}
	sets := make([]string, 0, len(req.Refresh))
	for _, col := range req.Refresh {
		if _, ok := req.Row[col]; !ok {
			return "", nil, fmt.Errorf("refresh column %q missing from %s row", col, req.Table)
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String(), args, nil
}

func validateFunction(name string) error {
	if name != "" && !validFunctionName.MatchString(name) {
		return fmt.Errorf("invalid enrichment function %q", name)
	}
	return nil
}
