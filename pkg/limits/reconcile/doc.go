// Package reconcile stores usage and outcome events that could not be applied
// to the shared counter store and replays them later.
//
// # Components
//
//   - Queue: durable storage of pending entries (memory, SQLite)
//   - Reconciler: replays due entries, paced by a token bucket
//   - Scheduler: runs the reconciler on a cron schedule
//
// A queued usage entry carries its fixed list of target budget ids, and its
// record id is the idempotency token of every counter addition, so replaying
// an entry that was partly applied never counts twice.
//
// # Usage
//
//	queue, err := reconcile.NewSQLiteQueue(reconcile.DefaultSQLiteConfig())
//	sink := reconcile.Sink(queue, nil)
//	tracker.SetSink(sink)
//	gateway.SetOutcomeSink(sink)
//
//	rec := reconcile.NewReconciler(queue, tracker, gateway, reconcile.Config{})
//	scheduler := reconcile.NewScheduler(rec, "@every 30s")
//	scheduler.Start(ctx)
package reconcile
