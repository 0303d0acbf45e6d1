package visibility

import (
	"testing"
	"time"
)

func TestMonitorEdgesAndDuration(t *testing.T) {
	t.Parallel()

	var hiddenEdges, visibleEdges int
	var lastHiddenFor time.Duration

	m := NewMonitor(Callbacks{
		OnHidden: func() { hiddenEdges++ },
		OnVisible: func(hiddenFor time.Duration) {
			visibleEdges++
			lastHiddenFor = hiddenFor
		},
	})

	clock := time.Unix(1000, 0)
	m.now = func() time.Time { return clock }

	if !m.IsCurrentlyVisible() {
		t.Fatalf("monitor must start visible")
	}

	m.MarkHidden()
	m.MarkHidden() // duplicate signal from a second event source
	if hiddenEdges != 1 {
		t.Fatalf("expected 1 hidden edge, got %d", hiddenEdges)
	}

	clock = clock.Add(10 * time.Second)
	if got := m.HiddenDuration(); got != 10*time.Second {
		t.Fatalf("ongoing hidden duration: got %v", got)
	}

	m.MarkVisible()
	m.MarkVisible()
	if visibleEdges != 1 {
		t.Fatalf("expected 1 visible edge, got %d", visibleEdges)
	}
	if lastHiddenFor != 10*time.Second {
		t.Fatalf("unexpected hidden duration: %v", lastHiddenFor)
	}
	if got := m.HiddenDuration(); got != 10*time.Second {
		t.Fatalf("completed hidden duration: got %v", got)
	}
	if !m.IsCurrentlyVisible() {
		t.Fatalf("expected visible after MarkVisible")
	}
}

func TestMonitorVisibleWithoutHiddenIsNoop(t *testing.T) {
	t.Parallel()

	fired := false
	m := NewMonitor(Callbacks{OnVisible: func(time.Duration) { fired = true }})
	m.MarkVisible()
	if fired {
		t.Fatalf("visible edge without prior hidden edge must not fire")
	}
}
