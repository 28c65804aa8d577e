package config

import (
	"strings"
	"testing"
	"time"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

var gatewayEnvKeys = []string{
	"VSWITCH_ADDR",
	"VSWITCH_ACCOUNT_KEYS",
	"VSWITCH_DEFAULT_STYLE",
	"VSWITCH_SWITCH_LATENCY_THRESHOLD_MS",
	"VSWITCH_SWITCH_FAILURE_COUNT",
	"VSWITCH_OPENAI_REALTIME_URL",
	"VSWITCH_OPENAI_API_KEY",
	"VSWITCH_GEMINI_LIVE_URL",
	"VSWITCH_GEMINI_API_KEY",
	"VSWITCH_PROVIDER_CONNECT_TIMEOUT",
	"VSWITCH_PROVIDER_PING_INTERVAL",
	"VSWITCH_PROVIDER_BACKOFF_MAX",
	"VSWITCH_PROVIDER_RECONNECT_ATTEMPTS",
	"VSWITCH_STORE_MODE",
	"VSWITCH_STORE_DIR",
	"VSWITCH_POSTGRES_DSN",
	"VSWITCH_MAGIC_LINK_SECRET",
	"VSWITCH_MAGIC_LINK_TTL",
	"VSWITCH_WS_WRITE_TIMEOUT",
	"VSWITCH_WS_PING_INTERVAL",
	"VSWITCH_METRICS_NAMESPACE",
	"VSWITCH_READ_HEADER_TIMEOUT",
	"VSWITCH_SHUTDOWN_GRACE_PERIOD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.DefaultStyle != events.StyleOpenAI {
		t.Fatalf("default style=%q", cfg.DefaultStyle)
	}
	if cfg.SwitchLatencyThresholdMs != 500 {
		t.Fatalf("threshold=%v", cfg.SwitchLatencyThresholdMs)
	}
	if cfg.SwitchFailureCount != 3 {
		t.Fatalf("failure count=%v", cfg.SwitchFailureCount)
	}
	if cfg.StoreMode != StoreModeFile || cfg.StoreDir != "data" {
		t.Fatalf("store=%q dir=%q", cfg.StoreMode, cfg.StoreDir)
	}
	if cfg.ProviderPingInterval != 5*time.Second {
		t.Fatalf("ping interval=%v", cfg.ProviderPingInterval)
	}
	if cfg.MagicLinkTTL != 24*time.Hour {
		t.Fatalf("magic ttl=%v", cfg.MagicLinkTTL)
	}
}

func TestLoadFromEnv_AccountKeysCSV(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_ACCOUNT_KEYS", "acc1=key1, acc2=key2")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccountKeys["acc1"] != "key1" || cfg.AccountKeys["acc2"] != "key2" {
		t.Fatalf("account keys=%v", cfg.AccountKeys)
	}
}

func TestLoadFromEnv_MalformedAccountKeyRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_ACCOUNT_KEYS", "acc1")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "VSWITCH_ACCOUNT_KEYS") {
		t.Fatalf("err=%v, want account keys error", err)
	}
}

func TestLoadFromEnv_InvalidStyleRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_DEFAULT_STYLE", "azure")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("invalid default style accepted")
	}
}

func TestLoadFromEnv_PostgresRequiresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_STORE_MODE", "postgres")

	_, err := LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "VSWITCH_POSTGRES_DSN") {
		t.Fatalf("err=%v, want DSN error", err)
	}

	t.Setenv("VSWITCH_POSTGRES_DSN", "postgres://u:p@localhost/db")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreMode != StoreModePostgres {
		t.Fatalf("store mode=%q", cfg.StoreMode)
	}
}

func TestLoadFromEnv_InvalidStoreModeRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_STORE_MODE", "redis")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("invalid store mode accepted")
	}
}

func TestLoadFromEnv_GeminiCoreDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_DEFAULT_STYLE", "GEMINI")
	t.Setenv("VSWITCH_SWITCH_LATENCY_THRESHOLD_MS", "750")
	t.Setenv("VSWITCH_SWITCH_FAILURE_COUNT", "5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultStyle != events.StyleGemini {
		t.Fatalf("style=%q", cfg.DefaultStyle)
	}
	if cfg.SwitchLatencyThresholdMs != 750 || cfg.SwitchFailureCount != 5 {
		t.Fatalf("switch policy=%v/%v", cfg.SwitchLatencyThresholdMs, cfg.SwitchFailureCount)
	}
}

func TestLoadFromEnv_UnparseableNumberFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("VSWITCH_SWITCH_FAILURE_COUNT", "many")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SwitchFailureCount != 3 {
		t.Fatalf("failure count=%v, want default 3", cfg.SwitchFailureCount)
	}
}
