package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/vango-go/voiceswitch/pkg/core/events"
	"github.com/vango-go/voiceswitch/pkg/core/provider"
)

// maxWindow bounds the retained latency history per provider.
const maxWindow = 64

// Switch watches round-trip latency samples and requests a provider
// swap when the last N samples for the current provider all exceed the
// threshold (strict greater-than). The leaving provider's window is
// cleared on switch, which forces another N samples before a reverse
// switch can fire.
type Switch struct {
	thresholdMs float64
	count       int
	logger      *slog.Logger

	current  events.Style
	window   map[events.Style][]float64
	onSwitch func(target events.Style)
}

func NewSwitch(initial events.Style, thresholdMs float64, count int, logger *slog.Logger) *Switch {
	if thresholdMs <= 0 {
		thresholdMs = 500
	}
	if count <= 0 {
		count = 3
	}
	return &Switch{
		thresholdMs: thresholdMs,
		count:       count,
		logger:      logger,
		current:     initial,
		window:      make(map[events.Style][]float64),
	}
}

func (s *Switch) OnSwitch(fn func(target events.Style)) { s.onSwitch = fn }

func (s *Switch) Current() events.Style { return s.current }

// AddStats records one sample and fires the switch callback when the
// threshold policy is met.
func (s *Switch) AddStats(sample provider.Sample) {
	win := append(s.window[sample.Provider], sample.LatencyMs)
	if len(win) > maxWindow {
		win = win[len(win)-maxWindow:]
	}
	s.window[sample.Provider] = win

	if sample.Provider != s.current {
		return
	}
	if len(win) < s.count {
		return
	}
	for _, l := range win[len(win)-s.count:] {
		if l <= s.thresholdMs {
			return
		}
	}

	target := events.Other(s.current)
	if err := s.fire(target); err != nil {
		if s.logger != nil {
			s.logger.Error("switch callback failed, staying on current provider",
				"current", string(s.current), "target", string(target), "error", err)
		}
		return
	}
	s.window[s.current] = nil
	s.current = target
}

func (s *Switch) fire(target events.Style) (err error) {
	if s.onSwitch == nil {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	s.onSwitch(target)
	return nil
}

// Cleanup releases the switch callback. Idempotent.
func (s *Switch) Cleanup() {
	s.onSwitch = nil
}
