// Package handlers implements the costgate REST API on net/http ServeMux
// patterns.
//
// # Routes
//
//	POST   /budgets
//	GET    /budgets/{id}
//	PUT    /budgets/{id}
//	DELETE /budgets/{id}
//	GET    /budgets/scope/{type}/{id}?include_inactive=true
//	GET    /budgets/{id}/status
//	POST   /budgets/{id}/usage
//	GET    /budgets/{id}/usage?since=&until=
//	POST   /budgets/{id}/alerts/{threshold}/acknowledge
//	POST   /budgets/{id}/check-constraints
//	POST   /admission/check
//	POST   /admission/usage
//	POST   /admission/outcome
//	PUT    /admission/error-rate
//	GET    /circuits/{provider}
//	POST   /circuits/{provider}/reset
//
// # Errors
//
// Every error is answered with the envelope from the types package. The
// status code follows the error's class in apperrors:
//
//	validation          422
//	not found           404
//	conflict            409
//	rate limited        429  (Retry-After)
//	circuit open        503  (Retry-After)
//	budget constraint   402
//	store unavailable   503
//
// An admission check that completes answers 200 even when the request is
// not admitted; the decision carries the reason and Retry-After is set for
// rate limit and circuit rejections.
package handlers
