package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Expected %v, got %v", start.Add(90*time.Second), got)
	}

	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Expected %v after Set, got %v", start, got)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Error("Expected Real clock for nil input")
	}

	m := NewManual(time.Unix(0, 0))
	if OrReal(m) != Clock(m) {
		t.Error("Expected the supplied clock to be returned")
	}
}
