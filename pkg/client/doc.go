/*
Package client is a Go client for the costgate REST API.

It is used by the costgate CLI and can be embedded by services that admit
requests remotely instead of linking the limits packages directly:

	c, err := client.New(client.Config{BaseURL: "http://127.0.0.1:8080"})
	if err != nil {
		return err
	}

	resp, err := c.Admit(ctx, limits.AdmitRequest{
		ProviderID:    "openai",
		Scope:         limits.ScopeIDs{TeamID: "platform"},
		EstimatedCost: 0.02,
	})

Non-2xx answers are returned as *APIError, which unwraps to the apperrors
sentinel of its type:

	if errors.Is(err, apperrors.ErrNotFound) { ... }

GET, PUT and DELETE are retried with backoff on 503 service_unavailable and
transport failures. POST is never retried. A 503 circuit_open is a rejection
and is not retried either.
*/
package client
