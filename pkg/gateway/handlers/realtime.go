package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voiceswitch/pkg/accounts"
	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/pipeline"
	"github.com/vango-go/voiceswitch/pkg/core/provider"
	"github.com/vango-go/voiceswitch/pkg/gateway/auth"
	"github.com/vango-go/voiceswitch/pkg/gateway/config"
	"github.com/vango-go/voiceswitch/pkg/gateway/lifecycle"
	"github.com/vango-go/voiceswitch/pkg/gateway/metrics"
	"github.com/vango-go/voiceswitch/pkg/gateway/mw"
	"github.com/vango-go/voiceswitch/pkg/gateway/sessions"
	"github.com/vango-go/voiceswitch/pkg/store"
)

const keyLookupTimeout = 5 * time.Second

// RealtimeHandler serves /v1/realtime: it authenticates the handshake,
// upgrades to WebSocket, and runs one pipeline per connection.
type RealtimeHandler struct {
	Config    config.Config
	Store     store.Store
	Accounts  *accounts.Manager
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", reqID)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeError(w, http.StatusServiceUnavailable, "gateway is draining", reqID)
		return
	}

	q := r.URL.Query()
	accountID := strings.TrimSpace(q.Get("rs_accid"))
	sessionID := strings.TrimSpace(q.Get("rs_u_sessid"))
	sig := strings.TrimSpace(q.Get("rs_auth"))
	if accountID == "" || sessionID == "" || sig == "" {
		writeError(w, http.StatusBadRequest, "rs_accid, rs_u_sessid and rs_auth are required", reqID)
		return
	}

	clientStyle := h.Config.DefaultStyle
	if raw := strings.TrimSpace(q.Get("rs_api")); raw != "" {
		style, ok := events.ParseStyle(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "rs_api must be OPENAI or GEMINI", reqID)
			return
		}
		clientStyle = style
	}
	providerStyle := clientStyle
	if raw := strings.TrimSpace(q.Get("rs_core")); raw != "" {
		style, ok := events.ParseStyle(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "rs_core must be OPENAI or GEMINI", reqID)
			return
		}
		providerStyle = style
	}

	keyCtx, cancel := context.WithTimeout(r.Context(), keyLookupTimeout)
	key, err := h.Accounts.KeyForAccount(keyCtx, accountID)
	cancel()
	if err != nil {
		writeError(w, http.StatusForbidden, "unknown account", reqID)
		return
	}
	if !auth.Verify(key, sessionID, sig) {
		writeError(w, http.StatusForbidden, "invalid signature", reqID)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	h.runSession(ws, accountID, sessionID, clientStyle, providerStyle)
}

func (h RealtimeHandler) runSession(ws *websocket.Conn, accountID, sessionID string, clientStyle, providerStyle events.Style) {
	logger := h.Logger
	if logger != nil {
		logger = logger.With("account_id", accountID, "session_id", sessionID, "style", string(clientStyle))
	}

	onDrop := func(reason string) {
		if h.Metrics != nil {
			h.Metrics.EventDropped(reason)
		}
	}
	downstream := newClientSocket(ws, h.Config.WSWriteTimeout, h.Config.WSPingInterval, logger, onDrop)

	var observer pipeline.Observer
	if h.Metrics != nil {
		observer = h.Metrics
	}
	p := pipeline.New(pipeline.Deps{
		Style:             clientStyle,
		Provider:          providerStyle,
		AccountID:         accountID,
		SessionID:         sessionID,
		Downstream:        downstream,
		Store:             h.Store,
		Logger:            logger,
		Observer:          observer,
		ConnFactory:       h.connFactory(),
		SwitchThresholdMs: h.Config.SwitchLatencyThresholdMs,
		SwitchCount:       h.Config.SwitchFailureCount,
	})

	unregister := h.Sessions.Register(sessionID, sessions.Handle{
		Warn:   downstream.Warn,
		Cancel: func() { _ = ws.Close() },
	})
	defer unregister()

	if h.Metrics != nil {
		h.Metrics.RecordSessionStart()
	}
	start := time.Now()
	status := "completed"

	if logger != nil {
		logger.Info("session started", "provider", string(providerStyle))
	}
	p.Start()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				status = "error"
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			if logger != nil {
				logger.Debug("malformed client frame", "error", err)
			}
			continue
		}
		p.ReceiveEvent(payload)
	}

	p.Cleanup()
	downstream.Cleanup()

	if h.Metrics != nil {
		h.Metrics.RecordSessionEnd(clientStyle, status, time.Since(start))
	}
	if logger != nil {
		logger.Info("session ended", "status", status, "duration_ms", time.Since(start).Milliseconds())
	}
}

// connFactory builds upstream connections with per-vendor endpoints and
// credentials.
func (h RealtimeHandler) connFactory() pipeline.ConnFactory {
	cfg := h.Config
	logger := h.Logger
	return func(p events.Style, dispatch func(func())) *provider.Conn {
		return provider.New(provider.Config{
			Provider:       p,
			Endpoint:       endpointFor(cfg, p),
			ConnectTimeout: cfg.ProviderConnectTimeout,
			PingInterval:   cfg.ProviderPingInterval,
			BackoffMax:     cfg.ProviderBackoffMax,
			MaxReconnects:  cfg.ProviderReconnectAttempts,
		}, logger, dispatch)
	}
}

func endpointFor(cfg config.Config, p events.Style) provider.Endpoint {
	if p == events.StyleGemini {
		u := cfg.GeminiLiveURL
		if cfg.GeminiAPIKey != "" {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "key=" + url.QueryEscape(cfg.GeminiAPIKey)
		}
		return provider.Endpoint{URL: u}
	}
	header := http.Header{}
	if cfg.OpenAIAPIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.OpenAIAPIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	return provider.Endpoint{URL: cfg.OpenAIRealtimeURL, Header: header}
}

func writeError(w http.ResponseWriter, status int, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":    message,
			"request_id": requestID,
		},
	})
}
