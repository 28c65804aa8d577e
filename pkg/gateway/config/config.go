package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

type StoreMode string

const (
	StoreModeFile     StoreMode = "file"
	StoreModePostgres StoreMode = "postgres"
)

type Config struct {
	Addr string

	// AccountKeys maps account id -> signing key. Accounts not present
	// here are looked up through the account store.
	AccountKeys map[string]string

	// DefaultStyle is the dialect assumed when rs_api is absent.
	DefaultStyle events.Style

	// Switch policy.
	SwitchLatencyThresholdMs float64
	SwitchFailureCount       int

	// Upstream vendor sockets.
	OpenAIRealtimeURL string
	OpenAIAPIKey      string
	GeminiLiveURL     string
	GeminiAPIKey      string

	ProviderConnectTimeout    time.Duration
	ProviderPingInterval      time.Duration
	ProviderBackoffMax        time.Duration
	ProviderReconnectAttempts int

	// Persistence.
	StoreMode   StoreMode
	StoreDir    string
	PostgresDSN string

	// Magic-link account access.
	MagicLinkSecret string
	MagicLinkTTL    time.Duration

	// Client WebSocket behaviour.
	WSWriteTimeout time.Duration
	WSPingInterval time.Duration

	MetricsNamespace string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                      envOr("VSWITCH_ADDR", ":8080"),
		AccountKeys:               make(map[string]string),
		SwitchLatencyThresholdMs:  envFloat64Or("VSWITCH_SWITCH_LATENCY_THRESHOLD_MS", 500),
		SwitchFailureCount:        envIntOr("VSWITCH_SWITCH_FAILURE_COUNT", 3),
		OpenAIRealtimeURL:         envOr("VSWITCH_OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIAPIKey:              strings.TrimSpace(os.Getenv("VSWITCH_OPENAI_API_KEY")),
		GeminiLiveURL:             envOr("VSWITCH_GEMINI_LIVE_URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"),
		GeminiAPIKey:              strings.TrimSpace(os.Getenv("VSWITCH_GEMINI_API_KEY")),
		ProviderConnectTimeout:    envDurationOr("VSWITCH_PROVIDER_CONNECT_TIMEOUT", 5*time.Second),
		ProviderPingInterval:      envDurationOr("VSWITCH_PROVIDER_PING_INTERVAL", 5*time.Second),
		ProviderBackoffMax:        envDurationOr("VSWITCH_PROVIDER_BACKOFF_MAX", 30*time.Second),
		ProviderReconnectAttempts: envIntOr("VSWITCH_PROVIDER_RECONNECT_ATTEMPTS", 0),
		StoreMode:                 StoreMode(envOr("VSWITCH_STORE_MODE", string(StoreModeFile))),
		StoreDir:                  envOr("VSWITCH_STORE_DIR", "data"),
		PostgresDSN:               strings.TrimSpace(os.Getenv("VSWITCH_POSTGRES_DSN")),
		MagicLinkSecret:           strings.TrimSpace(os.Getenv("VSWITCH_MAGIC_LINK_SECRET")),
		MagicLinkTTL:              envDurationOr("VSWITCH_MAGIC_LINK_TTL", 24*time.Hour),
		WSWriteTimeout:            envDurationOr("VSWITCH_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:            envDurationOr("VSWITCH_WS_PING_INTERVAL", 20*time.Second),
		MetricsNamespace:          envOr("VSWITCH_METRICS_NAMESPACE", "voiceswitch"),
		ReadHeaderTimeout:         envDurationOr("VSWITCH_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:       envDurationOr("VSWITCH_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	style, ok := events.ParseStyle(envOr("VSWITCH_DEFAULT_STYLE", string(events.StyleOpenAI)))
	if !ok {
		return Config{}, fmt.Errorf("VSWITCH_DEFAULT_STYLE must be OPENAI or GEMINI")
	}
	cfg.DefaultStyle = style

	for _, pair := range splitCSV(os.Getenv("VSWITCH_ACCOUNT_KEYS")) {
		accID, key, found := strings.Cut(pair, "=")
		accID = strings.TrimSpace(accID)
		key = strings.TrimSpace(key)
		if !found || accID == "" || key == "" {
			return Config{}, fmt.Errorf("VSWITCH_ACCOUNT_KEYS entries must be accountid=key")
		}
		cfg.AccountKeys[accID] = key
	}

	if cfg.SwitchLatencyThresholdMs <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_SWITCH_LATENCY_THRESHOLD_MS must be > 0")
	}
	if cfg.SwitchFailureCount <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_SWITCH_FAILURE_COUNT must be > 0")
	}
	if strings.TrimSpace(cfg.OpenAIRealtimeURL) == "" {
		return Config{}, fmt.Errorf("VSWITCH_OPENAI_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.GeminiLiveURL) == "" {
		return Config{}, fmt.Errorf("VSWITCH_GEMINI_LIVE_URL must not be empty")
	}
	if cfg.ProviderConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_PROVIDER_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.ProviderPingInterval <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_PROVIDER_PING_INTERVAL must be > 0")
	}
	if cfg.ProviderBackoffMax <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_PROVIDER_BACKOFF_MAX must be > 0")
	}
	if cfg.ProviderReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("VSWITCH_PROVIDER_RECONNECT_ATTEMPTS must be >= 0")
	}

	switch cfg.StoreMode {
	case StoreModeFile:
		if strings.TrimSpace(cfg.StoreDir) == "" {
			return Config{}, fmt.Errorf("VSWITCH_STORE_DIR must not be empty when VSWITCH_STORE_MODE=file")
		}
	case StoreModePostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("VSWITCH_POSTGRES_DSN must be set when VSWITCH_STORE_MODE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("VSWITCH_STORE_MODE must be one of file|postgres")
	}

	if cfg.MagicLinkTTL <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_MAGIC_LINK_TTL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VSWITCH_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
