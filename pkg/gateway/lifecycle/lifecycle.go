// Package lifecycle holds the process drain flag shared by handlers:
// once draining, new sessions are refused while existing ones wind down.
package lifecycle

import "sync/atomic"

type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
