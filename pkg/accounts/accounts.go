// Package accounts resolves account signing keys and account-level
// usage, backed by the store's record tables. Statically configured
// keys take precedence over stored accounts.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/voiceswitch/pkg/store"
)

type Manager struct {
	staticKeys map[string]string
	st         store.Store
	logger     *slog.Logger

	magicSecret string
	magicTTLMs  int64
}

type Config struct {
	// StaticKeys maps account id -> signing key, from environment config.
	StaticKeys map[string]string

	MagicLinkSecret string
	MagicLinkTTLMs  int64
}

func NewManager(cfg Config, st store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		staticKeys:  cfg.StaticKeys,
		st:          st,
		logger:      logger,
		magicSecret: cfg.MagicLinkSecret,
		magicTTLMs:  cfg.MagicLinkTTLMs,
	}
}

// KeyForAccount resolves the signing key for an account. Static keys
// win; otherwise the stored account record's secret_key is used.
func (m *Manager) KeyForAccount(ctx context.Context, accountID string) (string, error) {
	if key, ok := m.staticKeys[accountID]; ok {
		return key, nil
	}
	if m.st == nil {
		return "", store.ErrNotFound
	}
	rec, err := m.st.ReadRecord(ctx, "accounts", map[string]any{"id": accountID})
	if err != nil {
		return "", err
	}
	key, _ := rec["secret_key"].(string)
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("account %s has no secret key", accountID)
	}
	return key, nil
}

// CreateAccount stores a new account record.
func (m *Manager) CreateAccount(ctx context.Context, accountID, secretKey, email string) error {
	if m.st == nil {
		return fmt.Errorf("no account store configured")
	}
	return m.st.Insert(ctx, "accounts", map[string]any{
		"id":         accountID,
		"secret_key": secretKey,
		"email":      email,
	})
}

// Usage aggregates the account's usage events over [fromMs, toMs].
// Bounds <= 0 are open.
func (m *Manager) Usage(ctx context.Context, accountID string, fromMs, toMs int64) (*store.UsageSummary, error) {
	if m.st == nil {
		return nil, fmt.Errorf("no account store configured")
	}
	return m.st.UsageSum(ctx, accountID, fromMs, toMs)
}

// RecordUsage appends one usage event for a session.
func (m *Manager) RecordUsage(ctx context.Context, id, accountID, sessionID string, totalTokens int64, atMs int64) error {
	if m.st == nil {
		return fmt.Errorf("no account store configured")
	}
	return m.st.Insert(ctx, "usage_events", map[string]any{
		"id":            id,
		"account_id":    accountID,
		"session_id":    sessionID,
		"total_tokens":  totalTokens,
		"created_at_ms": atMs,
	})
}
