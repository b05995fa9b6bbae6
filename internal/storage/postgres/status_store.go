// Package postgres provides Postgres-backed persistence for status records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

const defaultTable = "url_statuses"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StatusStoreConfig controls the Postgres connection pool used for status rows.
type StatusStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// StatusStore writes status records into Postgres, one row per URL per run.
type StatusStore struct {
	pool  execCloser
	table string
}

// NewStatusStore creates a Postgres-backed StatusStore using the provided config.
func NewStatusStore(ctx context.Context, cfg StatusStoreConfig) (*StatusStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
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
	return &StatusStore{pool: pool, table: table}, nil
}

// NewStatusStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatusStoreWithPool(pool execCloser, table string) (*StatusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &StatusStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *StatusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the status table when it does not exist.
func (s *StatusStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id                TEXT        NOT NULL,
	url                   TEXT        NOT NULL,
	status                TEXT        NOT NULL,
	status_time           TIMESTAMPTZ NOT NULL,
	host_address          TEXT,
	headers               JSONB       NOT NULL DEFAULT '{}',
	exception_kind        TEXT,
	exception_detail      TEXT,
	exception_http_status INTEGER,
	metadata              JSONB       NOT NULL DEFAULT '{}'
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create status table: %w", err)
	}
	return nil
}

// WriteStatuses inserts one row per record in a single transaction. The
// first failure rolls back every row of the call.
func (s *StatusStore) WriteStatuses(ctx context.Context, runID string, records []crawler.StatusRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("status store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	status,
	status_time,
	host_address,
	headers,
	exception_kind,
	exception_detail,
	exception_http_status,
	metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status transaction: %w", err)
	}
	for _, record := range records {
		args, err := statusArgs(runID, record)
		if err == nil {
			_, err = tx.Exec(ctx, query, args...)
			if err != nil {
				err = fmt.Errorf("insert status for %s: %w", record.URL, err)
			}
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback status transaction: %w", rbErr))
			}
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status transaction: %w", err)
	}
	return nil
}

func statusArgs(runID string, record crawler.StatusRecord) ([]any, error) {
	headersJSON, err := json.Marshal(normalizeHeaders(record.Headers))
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata for %s: %w", record.URL, err)
	}
	var kind, detail, httpStatus any
	if record.Exception != nil {
		kind = string(record.Exception.Kind)
		detail = nullable(record.Exception.Detail)
		if record.Exception.HTTPStatus != 0 {
			httpStatus = record.Exception.HTTPStatus
		}
	}
	return []any{
		runID,
		record.URL,
		string(record.Status),
		record.StatusTime,
		nullable(record.HostAddress),
		headersJSON,
		kind,
		detail,
		httpStatus,
		metadataJSON,
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
