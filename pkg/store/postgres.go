package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the process-global persistence singleton. It is
// shared by every session and never closed at session end.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Exclusive() bool { return false }

func (s *PostgresStore) Append(ctx context.Context, accountID, entity, sessionID, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entities (account_id, entity, session_id, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, entity, session_id)
		DO UPDATE SET content = kv_entities.content || EXCLUDED.content, updated_at = now()
	`, accountID, entity, sessionID, content)
	return err
}

func (s *PostgresStore) Overwrite(ctx context.Context, accountID, entity, sessionID, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entities (account_id, entity, session_id, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, entity, session_id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = now()
	`, accountID, entity, sessionID, content)
	return err
}

func (s *PostgresStore) Read(ctx context.Context, accountID, entity, sessionID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
		SELECT content FROM kv_entities
		WHERE account_id = $1 AND entity = $2 AND session_id = $3
	`, accountID, entity, sessionID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (s *PostgresStore) Delete(ctx context.Context, accountID, entity, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM kv_entities
		WHERE account_id = $1 AND entity = $2 AND session_id = $3
	`, accountID, entity, sessionID)
	return err
}

func (s *PostgresStore) Exists(ctx context.Context, accountID, entity, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM kv_entities
			WHERE account_id = $1 AND entity = $2 AND session_id = $3
		)
	`, accountID, entity, sessionID).Scan(&exists)
	return exists, err
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Record tables reachable through the generic record API. Anything else
// is rejected before SQL is built.
var recordTables = map[string]struct{}{
	"accounts":     {},
	"magic_tokens": {},
	"usage_events": {},
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func checkTable(table string) error {
	if _, ok := recordTables[table]; !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *PostgresStore) Insert(ctx context.Context, table string, data map[string]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	cols := sortedKeys(data)
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if err := checkIdent(col); err != nil {
			return err
		}
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, data[col])
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, table string, data, where map[string]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	var sets, conds []string
	var args []any
	for _, col := range sortedKeys(data) {
		if err := checkIdent(col); err != nil {
			return err
		}
		args = append(args, data[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, col := range sortedKeys(where) {
		if err := checkIdent(col); err != nil {
			return err
		}
		args = append(args, where[col])
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(conds, " AND "),
	)
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) ReadRecord(ctx context.Context, table string, where map[string]any) (map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	var conds []string
	var args []any
	for _, col := range sortedKeys(where) {
		if err := checkIdent(col); err != nil {
			return nil, err
		}
		args = append(args, where[col])
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", table, strings.Join(conds, " AND "))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	rec := make(map[string]any, len(values))
	for i, desc := range rows.FieldDescriptions() {
		rec[string(desc.Name)] = values[i]
	}
	return rec, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, table string, where map[string]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	var conds []string
	var args []any
	for _, col := range sortedKeys(where) {
		if err := checkIdent(col); err != nil {
			return err
		}
		args = append(args, where[col])
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conds, " AND "))
	_, err := s.pool.Exec(ctx, query, args...)
	return err
}

func (s *PostgresStore) UsageSum(ctx context.Context, accountID string, fromMs, toMs int64) (*UsageSummary, error) {
	var total *int64
	err := s.pool.QueryRow(ctx, `
		SELECT SUM(total_tokens) FROM usage_events
		WHERE account_id = $1
		  AND ($2 <= 0 OR created_at_ms >= $2)
		  AND ($3 <= 0 OR created_at_ms <= $3)
	`, accountID, fromMs, toMs).Scan(&total)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return nil, nil
	}
	return &UsageSummary{TotalTokens: *total}, nil
}

func (s *PostgresStore) Flush(ctx context.Context) error { return nil }

// Cleanup closes the pool. Safe to call more than once.
func (s *PostgresStore) Cleanup() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
