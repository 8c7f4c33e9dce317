// Package health serves liveness, readiness and version probes.
//
// Liveness (/health) answers 200 as long as the process serves HTTP.
// Readiness (/ready) runs the registered dependency checks concurrently,
// each bounded by its own timeout, and answers 503 with per-check detail
// when any of them fails:
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "counter_store": {"status": "unhealthy", "message": "dial tcp: connection refused"},
//	        "database": {"status": "ok", "duration_ms": 0.4}
//	    },
//	    "timestamp": "2026-10-18T10:30:00Z"
//	}
package health
