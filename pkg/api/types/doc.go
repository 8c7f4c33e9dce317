// Package types defines the JSON bodies of the costgate REST API.
//
// Domain values such as budget.Definition, budget.StatusInfo and
// limits.AdmitDecision are served as-is; this package adds the request
// bodies, list envelopes and the uniform error envelope:
//
//	{"error": {"type": "rate_limit_exceeded", "message": "...", "code": 429, "retry_after_seconds": 12}}
package types
