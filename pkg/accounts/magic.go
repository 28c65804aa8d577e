package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vango-go/voiceswitch/pkg/store"
)

// Magic links are single-use JWTs that let an account holder access
// their dashboard without a password. The token id is recorded so a
// redeemed link cannot be replayed.

type magicClaims struct {
	jwt.RegisteredClaims
}

// IssueMagicLink mints a signed single-use token for the account and
// records it.
func (m *Manager) IssueMagicLink(ctx context.Context, accountID string) (string, error) {
	if m.magicSecret == "" {
		return "", fmt.Errorf("magic links are not configured")
	}
	if m.st == nil {
		return "", fmt.Errorf("no account store configured")
	}

	now := time.Now()
	expires := now.Add(time.Duration(m.magicTTLMs) * time.Millisecond)
	tokenID := "mt_" + randHex(16)

	claims := magicClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.magicSecret))
	if err != nil {
		return "", fmt.Errorf("sign magic token: %w", err)
	}

	err = m.st.Insert(ctx, "magic_tokens", map[string]any{
		"id":            tokenID,
		"account_id":    accountID,
		"used":          false,
		"expires_at_ms": expires.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("record magic token: %w", err)
	}
	return signed, nil
}

// RedeemMagicLink validates a token, marks it used, and returns the
// account it belongs to. A second redemption fails.
func (m *Manager) RedeemMagicLink(ctx context.Context, raw string) (string, error) {
	if m.magicSecret == "" {
		return "", fmt.Errorf("magic links are not configured")
	}
	if m.st == nil {
		return "", fmt.Errorf("no account store configured")
	}

	var claims magicClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.magicSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid magic token: %w", err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", fmt.Errorf("invalid magic token: missing claims")
	}

	rec, err := m.st.ReadRecord(ctx, "magic_tokens", map[string]any{"id": claims.ID})
	if err != nil {
		if err == store.ErrNotFound {
			return "", fmt.Errorf("unknown magic token")
		}
		return "", err
	}
	if used, _ := rec["used"].(bool); used {
		return "", fmt.Errorf("magic token already used")
	}

	err = m.st.Update(ctx, "magic_tokens",
		map[string]any{"used": true},
		map[string]any{"id": claims.ID})
	if err != nil {
		return "", fmt.Errorf("mark magic token used: %w", err)
	}
	return claims.Subject, nil
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
