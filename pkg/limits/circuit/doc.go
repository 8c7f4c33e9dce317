// Package circuit implements per-provider circuit breaking on top of the shared
// counter store.
//
// Each provider has one state record (closed, open or half_open) stored as JSON
// under cb:{provider} without expiry. Every mutation is a compare-and-swap loop,
// so any number of gateway instances can share a breaker.
//
// # State machine
//
//   - closed -> open: ConsecutiveFailures reaches TripThreshold.
//   - open -> half_open: lazily, on the first Admit at or after OpenedAt+CoolDown.
//     The transition grants HalfOpenTrials trial admissions.
//   - half_open -> closed: a trial reports success.
//   - half_open -> open: a trial reports failure. The cool-down doubles, capped
//     at MaxCoolDown.
//
// The time-based transition is the pure function NextState; there are no
// background timers. A half-open circuit whose trials never report back regrants
// its trials after one cool-down.
//
// # Usage
//
//	manager, err := circuit.NewManager(store, circuit.Config{
//	    Defaults: circuit.Settings{TripThreshold: 5, CoolDown: 30 * time.Second},
//	})
//
//	decision, err := manager.Admit(ctx, "openai")
//	if err != nil || !decision.Allowed {
//	    // reject
//	}
//
//	// after the provider call
//	manager.ReportOutcome(ctx, "openai", callErr == nil, latency)
package circuit
