// Package budget owns budget definitions and spending against them.
//
// # Registry
//
// The Registry validates and persists hierarchical budget definitions. A
// budget may name a parent whose scope is an ancestor of its own (a user
// budget under its team or organization budget); a child's spend counts toward
// every ancestor. Deletion is soft so usage records keep their references.
//
// # Tracker
//
// The Tracker appends usage records to the ledger and adds each amount to the
// period total of the budget and all of its ancestors in the shared counter
// store. The target list is resolved once per record, and every addition is
// idempotent per record id, so retries and replays never double count.
//
// Status is recomputed on every read from the live total and the period math:
//
//	normal    percentUsed < lowest alert threshold
//	warning   percentUsed >= an alert threshold, < 95
//	critical  95 <= percentUsed < 100
//	exceeded  percentUsed >= 100
//
// Alerts fire once per period when their threshold is crossed and stay active
// until acknowledged or until the period rolls over.
//
// # Periods
//
// Periods are anchored at the budget's start date. Monthly, quarterly and
// annual periods advance by calendar months; custom budgets have exactly one
// period, [StartDate, EndDate).
//
// # Concurrency
//
// Constraint checks read the latest known total. Two concurrent requests can
// both pass the check before either's usage lands, so the limit is an eventual
// ceiling, not a reservation.
package budget
