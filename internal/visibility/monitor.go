// Package visibility tracks foreground/background transitions. The UI
// shell forwards its visibility events (visibilitychange, pagehide,
// blur/focus on one mobile browser) here; the monitor collapses them
// into clean hidden/visible edges with elapsed hidden duration.
package visibility

import (
	"sync"
	"time"
)

// Callbacks fire on visibility edges. OnVisible receives how long the
// app was hidden.
type Callbacks struct {
	OnHidden  func()
	OnVisible func(hiddenFor time.Duration)
}

// Monitor is memory-only; state resets on restart.
type Monitor struct {
	mu         sync.Mutex
	visible    bool
	lastHidden time.Time
	hiddenFor  time.Duration
	cb         Callbacks
	now        func() time.Time
}

func NewMonitor(cb Callbacks) *Monitor {
	return &Monitor{visible: true, cb: cb, now: time.Now}
}

// MarkHidden records a visible-to-hidden edge. Repeated hidden signals
// from overlapping event sources collapse into one edge.
func (m *Monitor) MarkHidden() {
	m.mu.Lock()
	if !m.visible {
		m.mu.Unlock()
		return
	}
	m.visible = false
	m.lastHidden = m.now()
	onHidden := m.cb.OnHidden
	m.mu.Unlock()

	if onHidden != nil {
		onHidden()
	}
}

// MarkVisible records a hidden-to-visible edge and computes how long the
// app stayed hidden.
func (m *Monitor) MarkVisible() {
	m.mu.Lock()
	if m.visible {
		m.mu.Unlock()
		return
	}
	m.visible = true
	m.hiddenFor = m.now().Sub(m.lastHidden)
	hiddenFor := m.hiddenFor
	onVisible := m.cb.OnVisible
	m.mu.Unlock()

	if onVisible != nil {
		onVisible(hiddenFor)
	}
}

// IsCurrentlyVisible is a synchronous query.
func (m *Monitor) IsCurrentlyVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// HiddenDuration returns the length of the last completed hidden span,
// or the ongoing one if the app is hidden now.
func (m *Monitor) HiddenDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.visible {
		return m.now().Sub(m.lastHidden)
	}
	return m.hiddenFor
}
