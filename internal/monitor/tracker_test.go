package monitor

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

func newTestTracker() *Tracker {
	return NewTracker(TrackerConfig{FlipThreshold: 0.02, Cooldown: 2 * time.Hour})
}

// seedAlerted walks a tracker to state {flip 100, Long Gamma, LastAlert at}.
func seedAlerted(t *testing.T, tr *Tracker, at time.Time) {
	t.Helper()
	d := tr.Observe("SPY", Observation{FlipLevel: fp(90), RegimeLabel: "Long Gamma", ReferencePrice: 95}, at.Add(-3*time.Hour))
	if !d.First {
		t.Fatalf("expected baseline, got %+v", d)
	}
	d = tr.Observe("SPY", Observation{FlipLevel: fp(100), RegimeLabel: "Long Gamma", ReferencePrice: 101}, at)
	if !d.Alert || !d.FlipMoved {
		t.Fatalf("expected flip-move alert, got %+v", d)
	}
}

func TestFirstObservationBaselinesWithoutAlert(t *testing.T) {
	tr := newTestTracker()

	d := tr.Observe("SPY", Observation{FlipLevel: fp(510), RegimeLabel: "Long Gamma", ReferencePrice: 512}, t0)
	if !d.First || d.Alert || d.Suppressed {
		t.Fatalf("first observation should baseline silently, got %+v", d)
	}

	st, ok := tr.States()["SPY"]
	if !ok {
		t.Fatal("no state stored")
	}
	if st.RegimeLabel != "Long Gamma" || st.FlipLevel == nil || *st.FlipLevel != 510 {
		t.Fatalf("baseline not stored: %+v", st)
	}
	if !st.LastAlert.IsZero() {
		t.Fatalf("baseline must not set LastAlert, got %v", st.LastAlert)
	}
}

func TestRegimeChangeAlerts(t *testing.T) {
	tr := newTestTracker()
	tr.Observe("SPY", Observation{FlipLevel: fp(510), RegimeLabel: "Long Gamma"}, t0)

	d := tr.Observe("SPY", Observation{FlipLevel: fp(510), RegimeLabel: "Short Gamma"}, t0.Add(5*time.Minute))
	if !d.Alert || !d.RegimeChanged || d.FlipMoved {
		t.Fatalf("expected regime-change alert, got %+v", d)
	}
	if d.PrevRegime != "Long Gamma" {
		t.Fatalf("PrevRegime = %q", d.PrevRegime)
	}
}

func TestFlipMoveThresholdIsStrict(t *testing.T) {
	// 2.0% exactly is not a move; anything beyond is.
	cases := map[string]struct {
		next  float64
		moved bool
	}{
		"exactly at threshold": {102.0, false},
		"just beyond":          {102.1, true},
		"below":                {101.0, false},
		"downward beyond":      {97.5, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tr := newTestTracker()
			tr.Observe("SPY", Observation{FlipLevel: fp(100), RegimeLabel: "Long Gamma"}, t0)

			d := tr.Observe("SPY", Observation{FlipLevel: fp(tc.next), RegimeLabel: "Long Gamma"}, t0.Add(10*time.Minute))
			if d.FlipMoved != tc.moved {
				t.Fatalf("flip 100 -> %v: FlipMoved = %v, want %v", tc.next, d.FlipMoved, tc.moved)
			}
			if d.Alert != tc.moved {
				t.Fatalf("flip 100 -> %v: Alert = %v, want %v", tc.next, d.Alert, tc.moved)
			}
		})
	}
}

func TestCooldownSuppressesButStateAdvances(t *testing.T) {
	tr := newTestTracker()
	seedAlerted(t, tr, t0)

	// 3% move half an hour after the last alert: detected, suppressed.
	d := tr.Observe("SPY", Observation{FlipLevel: fp(103), RegimeLabel: "Long Gamma", ReferencePrice: 104}, t0.Add(30*time.Minute))
	if d.Alert {
		t.Fatal("alert fired inside cooldown")
	}
	if !d.Suppressed || !d.FlipMoved {
		t.Fatalf("expected suppressed flip move, got %+v", d)
	}

	st := tr.States()["SPY"]
	if st.FlipLevel == nil || *st.FlipLevel != 103 {
		t.Fatalf("state must advance to the observed flip, got %+v", st.FlipLevel)
	}
	if !st.LastAlert.Equal(t0) {
		t.Fatalf("LastAlert moved on a suppressed change: %v", st.LastAlert)
	}
}

func TestRegimeFlipAfterCooldownAlerts(t *testing.T) {
	tr := newTestTracker()
	seedAlerted(t, tr, t0)
	tr.Observe("SPY", Observation{FlipLevel: fp(103), RegimeLabel: "Long Gamma"}, t0.Add(30*time.Minute))

	// Three hours after the last alert the regime flips: cooldown has
	// elapsed, so this one goes out.
	d := tr.Observe("SPY", Observation{FlipLevel: fp(103), RegimeLabel: "Short Gamma"}, t0.Add(3*time.Hour))
	if !d.Alert || !d.RegimeChanged {
		t.Fatalf("expected alert, got %+v", d)
	}
	if d.PrevRegime != "Long Gamma" {
		t.Fatalf("PrevRegime = %q", d.PrevRegime)
	}
	if got := tr.States()["SPY"].LastAlert; !got.Equal(t0.Add(3 * time.Hour)) {
		t.Fatalf("LastAlert = %v", got)
	}
}

func TestComparisonUsesPreviousCycleValues(t *testing.T) {
	tr := newTestTracker()
	seedAlerted(t, tr, t0)

	// Suppressed move to 103 advances the baseline even without an alert.
	tr.Observe("SPY", Observation{FlipLevel: fp(103), RegimeLabel: "Long Gamma"}, t0.Add(30*time.Minute))

	// 104 is 4% away from the alerted 100 but under 1% from the stored
	// 103, so no change is detected even though the cooldown is over.
	d := tr.Observe("SPY", Observation{FlipLevel: fp(104), RegimeLabel: "Long Gamma"}, t0.Add(2*time.Hour+10*time.Minute))
	if d.FlipMoved || d.Alert {
		t.Fatalf("comparison drifted back to the alerted value: %+v", d)
	}
}

func TestSuppressionDoesNotExtendCooldown(t *testing.T) {
	tr := newTestTracker()
	seedAlerted(t, tr, t0)
	tr.Observe("SPY", Observation{FlipLevel: fp(103), RegimeLabel: "Long Gamma"}, t0.Add(30*time.Minute))

	// Cooldown counts from the last alert at t0, not from the
	// suppressed change at t0+30m.
	d := tr.Observe("SPY", Observation{FlipLevel: fp(110), RegimeLabel: "Long Gamma"}, t0.Add(2*time.Hour+15*time.Minute))
	if !d.Alert {
		t.Fatalf("expected alert once cooldown from the last alert elapsed, got %+v", d)
	}
}

func TestMissingFlipLevelsNeverCountAsMove(t *testing.T) {
	cases := map[string]struct {
		prior, next *float64
	}{
		"prior missing": {nil, fp(100)},
		"next missing":  {fp(100), nil},
		"both missing":  {nil, nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tr := newTestTracker()
			tr.Observe("SPY", Observation{FlipLevel: tc.prior, RegimeLabel: "Long Gamma"}, t0)

			d := tr.Observe("SPY", Observation{FlipLevel: tc.next, RegimeLabel: "Long Gamma"}, t0.Add(10*time.Minute))
			if d.FlipMoved || d.Alert {
				t.Fatalf("move detected with missing flip level: %+v", d)
			}
		})
	}
}

func TestPruneDropsInactiveSymbols(t *testing.T) {
	tr := newTestTracker()
	tr.Observe("SPY", Observation{RegimeLabel: "Long Gamma"}, t0)
	tr.Observe("QQQ", Observation{RegimeLabel: "Short Gamma"}, t0)

	tr.Prune([]string{"SPY"})

	states := tr.States()
	if len(states) != 1 {
		t.Fatalf("got %d states, want 1", len(states))
	}
	if _, ok := states["QQQ"]; ok {
		t.Fatal("pruned symbol still tracked")
	}

	// A re-added symbol baselines fresh.
	d := tr.Observe("QQQ", Observation{RegimeLabel: "Long Gamma"}, t0.Add(time.Hour))
	if !d.First {
		t.Fatalf("re-added symbol should baseline, got %+v", d)
	}
}
