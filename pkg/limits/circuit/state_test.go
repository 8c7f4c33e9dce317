package circuit

import (
	"testing"
	"time"
)

func TestNextState(t *testing.T) {
	settings := Settings{TripThreshold: 5, CoolDown: 30 * time.Second, HalfOpenTrials: 2}
	opened := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		state      State
		now        time.Time
		wantStatus Status
		wantTrials int
	}{
		{
			name:       "closed stays closed",
			state:      State{Status: StatusClosed, ConsecutiveFailures: 3},
			now:        opened,
			wantStatus: StatusClosed,
		},
		{
			name:       "empty status is closed",
			state:      State{},
			now:        opened,
			wantStatus: StatusClosed,
		},
		{
			name:       "open before cool-down",
			state:      State{Status: StatusOpen, OpenedAt: opened, CoolDown: 30 * time.Second},
			now:        opened.Add(29 * time.Second),
			wantStatus: StatusOpen,
		},
		{
			name:       "open at cool-down",
			state:      State{Status: StatusOpen, OpenedAt: opened, CoolDown: 30 * time.Second},
			now:        opened.Add(30 * time.Second),
			wantStatus: StatusHalfOpen,
			wantTrials: 2,
		},
		{
			name:       "open uses grown cool-down",
			state:      State{Status: StatusOpen, OpenedAt: opened, CoolDown: time.Minute},
			now:        opened.Add(45 * time.Second),
			wantStatus: StatusOpen,
		},
		{
			name:       "open without stored cool-down uses settings",
			state:      State{Status: StatusOpen, OpenedAt: opened},
			now:        opened.Add(30 * time.Second),
			wantStatus: StatusHalfOpen,
			wantTrials: 2,
		},
		{
			name:       "half-open trials claimed recently",
			state:      State{Status: StatusHalfOpen, HalfOpenAt: opened, CoolDown: 30 * time.Second},
			now:        opened.Add(10 * time.Second),
			wantStatus: StatusHalfOpen,
			wantTrials: 0,
		},
		{
			name:       "half-open trials regranted after timeout",
			state:      State{Status: StatusHalfOpen, HalfOpenAt: opened, CoolDown: 30 * time.Second},
			now:        opened.Add(30 * time.Second),
			wantStatus: StatusHalfOpen,
			wantTrials: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextState(tt.state, tt.now, settings)
			if got.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, got.Status)
			}
			if got.TrialsRemaining != tt.wantTrials {
				t.Errorf("Expected %d trials, got %d", tt.wantTrials, got.TrialsRemaining)
			}
		})
	}
}

func TestApplyOutcome_CoolDownDoublesUpToCap(t *testing.T) {
	settings := Settings{TripThreshold: 1, CoolDown: 10 * time.Second, MaxCoolDown: 35 * time.Second}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	s, _ := applyOutcome(closedState("p"), false, now, settings)
	if s.Status != StatusOpen || s.CoolDown != 10*time.Second {
		t.Fatalf("Expected open with 10s cool-down, got %s/%v", s.Status, s.CoolDown)
	}

	want := []time.Duration{20 * time.Second, 35 * time.Second, 35 * time.Second}
	for i, w := range want {
		s = NextState(s, s.OpenedAt.Add(s.CoolDown), settings)
		if s.Status != StatusHalfOpen {
			t.Fatalf("Cycle %d: expected half-open, got %s", i, s.Status)
		}
		s, _ = applyOutcome(s, false, s.HalfOpenAt, settings)
		if s.Status != StatusOpen {
			t.Fatalf("Cycle %d: expected open, got %s", i, s.Status)
		}
		if s.CoolDown != w {
			t.Errorf("Cycle %d: expected cool-down %v, got %v", i, w, s.CoolDown)
		}
		if s.FailedCycles != i+1 {
			t.Errorf("Cycle %d: expected %d failed cycles, got %d", i, i+1, s.FailedCycles)
		}
	}

	s = NextState(s, s.OpenedAt.Add(s.CoolDown), settings)
	s, _ = applyOutcome(s, true, s.HalfOpenAt, settings)
	if s.Status != StatusClosed || s.FailedCycles != 0 || s.ConsecutiveFailures != 0 || s.CoolDown != 0 {
		t.Errorf("Expected fully reset closed state, got %+v", s)
	}
}

func TestApplyOutcome_ClosedSuccessWithoutFailuresIsNoop(t *testing.T) {
	s, changed := applyOutcome(closedState("p"), true, time.Now(), Settings{})
	if changed {
		t.Error("Expected no change for success on a healthy circuit")
	}
	if s.Status != StatusClosed {
		t.Errorf("Expected closed, got %s", s.Status)
	}
}

func TestSettings_Defaults(t *testing.T) {
	s := Settings{CoolDown: time.Minute}.withDefaults()
	if s.TripThreshold != 5 {
		t.Errorf("Expected default trip threshold 5, got %d", s.TripThreshold)
	}
	if s.MaxCoolDown != 10*time.Minute {
		t.Errorf("Expected max cool-down 10x cool-down, got %v", s.MaxCoolDown)
	}
	if s.HalfOpenTrials != 1 {
		t.Errorf("Expected 1 half-open trial, got %d", s.HalfOpenTrials)
	}
}
