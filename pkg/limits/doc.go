// Package limits is the admission gateway for AI provider calls.
//
// # Overview
//
// Before a caller contacts a provider it asks the Gateway for permission. The
// Gateway consults three independent mechanisms in a fixed order and stops at
// the first rejection:
//
//  1. Circuit breaker for the provider (package circuit)
//  2. Rate limits for the global, provider and user tiers (package ratelimit)
//  3. Budgets of the caller's scopes, user to organization (package budget)
//
// After the call, the caller reports the actual cost with ReportUsage and the
// result with ReportOutcome.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - budget: Budget registry, usage tracking, status and alerts
//   - ratelimit: Fixed-window tier limits with burst and emergency mode
//   - circuit: Per-provider circuit breakers
//   - enforcement: Interpretation of budget alert actions
//   - storage: Budget and usage persistence (memory, SQLite)
//   - retry: Bounded exponential backoff for store writes
//
// All live state (rate windows, budget totals, circuit states) lives in a
// counter.Store shared by every gateway instance.
//
// # Usage
//
//	decision, err := gateway.Admit(ctx, limits.AdmitRequest{
//	    ProviderID:    "openai",
//	    Scope:         limits.ScopeIDs{UserID: "u1", TeamID: "t1"},
//	    EstimatedCost: 0.02,
//	})
//	if err != nil {
//	    return err // store failure, treat as denial
//	}
//	if !decision.Allow {
//	    return decision.Err(req)
//	}
//
// # Failure policy
//
// Circuit and rate limit checks fail closed. Budget checks fail closed unless
// GatewayConfig.BudgetFailOpen is set, in which case the request is admitted
// with a warning.
package limits
