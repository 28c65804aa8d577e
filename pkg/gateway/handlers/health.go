package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/voiceswitch/pkg/gateway/config"
	"github.com/vango-go/voiceswitch/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceswitch/pkg/gateway/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		ActiveCount  int      `json:"active_sessions"`
		StoreMode    string   `json:"store_mode"`
		DefaultStyle string   `json:"default_style"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.StoreMode {
	case config.StoreModeFile, config.StoreModePostgres:
	default:
		issues = append(issues, "invalid store_mode")
	}
	if h.Config.SwitchLatencyThresholdMs <= 0 {
		issues = append(issues, "switch latency threshold must be > 0")
	}
	if h.Config.SwitchFailureCount <= 0 {
		issues = append(issues, "switch failure count must be > 0")
	}
	if h.Config.OpenAIRealtimeURL == "" || h.Config.GeminiLiveURL == "" {
		issues = append(issues, "provider urls must be configured")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		ActiveCount:  h.Sessions.Count(),
		StoreMode:    string(h.Config.StoreMode),
		DefaultStyle: string(h.Config.DefaultStyle),
		Issues:       issues,
	})
}
