package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps entity blobs as plain files under
// root/<account>/<entity>/<session> and records as JSON files under
// root/_tables/<table>/<id>.json. It is the development backend and the
// session-exclusive fallback when no database is configured.
type FileStore struct {
	root      string
	exclusive bool

	mu sync.Mutex
}

func NewFileStore(root string, exclusive bool) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &FileStore{root: root, exclusive: exclusive}, nil
}

func (s *FileStore) Exclusive() bool { return s.exclusive }

func (s *FileStore) entityPath(accountID, entity, sessionID string) (string, error) {
	for _, part := range []string{accountID, entity, sessionID} {
		if part == "" || part != filepath.Base(part) || strings.ContainsAny(part, "/\\") {
			return "", fmt.Errorf("invalid store key element %q", part)
		}
	}
	return filepath.Join(s.root, accountID, entity, sessionID), nil
}

func (s *FileStore) Append(ctx context.Context, accountID, entity, sessionID, content string) error {
	path, err := s.entityPath(accountID, entity, sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func (s *FileStore) Overwrite(ctx context.Context, accountID, entity, sessionID, content string) error {
	path, err := s.entityPath(accountID, entity, sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (s *FileStore) Read(ctx context.Context, accountID, entity, sessionID string) (string, error) {
	path, err := s.entityPath(accountID, entity, sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *FileStore) Delete(ctx context.Context, accountID, entity, sessionID string) error {
	path, err := s.entityPath(accountID, entity, sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Exists(ctx context.Context, accountID, entity, sessionID string) (bool, error) {
	path, err := s.entityPath(accountID, entity, sessionID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) tablePath(table, id string) (string, error) {
	if table == "" || table != filepath.Base(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if id == "" || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	return filepath.Join(s.root, "_tables", table, id+".json"), nil
}

func recordID(data map[string]any) string {
	id, _ := data["id"].(string)
	return id
}

func (s *FileStore) Insert(ctx context.Context, table string, data map[string]any) error {
	path, err := s.tablePath(table, recordID(data))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}

func (s *FileStore) Update(ctx context.Context, table string, data, where map[string]any) error {
	rec, err := s.ReadRecord(ctx, table, where)
	if err != nil {
		return err
	}
	for k, v := range data {
		rec[k] = v
	}
	return s.Insert(ctx, table, rec)
}

func (s *FileStore) ReadRecord(ctx context.Context, table string, where map[string]any) (map[string]any, error) {
	if table == "" || table != filepath.Base(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	dir := filepath.Join(s.root, "_tables", table)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if recordMatches(rec, where) {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) DeleteRecord(ctx context.Context, table string, where map[string]any) error {
	rec, err := s.ReadRecord(ctx, table, where)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	path, err := s.tablePath(table, recordID(rec))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func recordMatches(rec, where map[string]any) bool {
	for k, want := range where {
		got, ok := rec[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *FileStore) UsageSum(ctx context.Context, accountID string, fromMs, toMs int64) (*UsageSummary, error) {
	dir := filepath.Join(s.root, "_tables", "usage_events")
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var total int64
	var seen bool
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if id, _ := rec["account_id"].(string); id != accountID {
			continue
		}
		at := int64(floatOr(rec["created_at_ms"], 0))
		if fromMs > 0 && at < fromMs {
			continue
		}
		if toMs > 0 && at > toMs {
			continue
		}
		total += int64(floatOr(rec["total_tokens"], 0))
		seen = true
	}
	if !seen {
		return nil, nil
	}
	return &UsageSummary{TotalTokens: total}, nil
}

func floatOr(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return def
	}
}

func (s *FileStore) Flush(ctx context.Context) error { return nil }

// Cleanup is idempotent; the file store holds no open handles between
// operations.
func (s *FileStore) Cleanup() error { return nil }
