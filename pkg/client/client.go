// Package client is a Go client for the costgate REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mercator-hq/costgate/pkg/api/types"
	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits"
	"mercator-hq/costgate/pkg/limits/budget"
	"mercator-hq/costgate/pkg/limits/retry"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Timeout bounds each HTTP attempt.
	// Default: 10s
	Timeout time.Duration

	// Retry bounds retries of idempotent requests on 503 and transport
	// failures. POST requests are never retried.
	Retry retry.Policy

	// HTTPClient overrides the pooled default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to a costgate server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retry   retry.Policy
	logger  *slog.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			Timeout: timeout,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		http:    hc,
		retry:   cfg.Retry,
		logger:  logger.With("component", "client"),
	}, nil
}

// CreateBudget creates a budget.
func (c *Client) CreateBudget(ctx context.Context, req budget.CreateRequest) (*budget.Definition, error) {
	var def budget.Definition
	if err := c.do(ctx, http.MethodPost, "/budgets", nil, req, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// GetBudget fetches a budget definition.
func (c *Client) GetBudget(ctx context.Context, id string) (*budget.Definition, error) {
	var def budget.Definition
	if err := c.do(ctx, http.MethodGet, "/budgets/"+url.PathEscape(id), nil, nil, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// UpdateBudget applies a partial update.
func (c *Client) UpdateBudget(ctx context.Context, id string, req budget.UpdateRequest) (*budget.Definition, error) {
	var def budget.Definition
	if err := c.do(ctx, http.MethodPut, "/budgets/"+url.PathEscape(id), nil, req, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// DeleteBudget soft-deletes a budget.
func (c *Client) DeleteBudget(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/budgets/"+url.PathEscape(id), nil, nil, nil)
}

// ListBudgets lists the budgets attached to a scope.
func (c *Client) ListBudgets(ctx context.Context, scopeType budget.ScopeType, scopeID string, includeInactive bool) ([]*budget.Definition, error) {
	q := url.Values{}
	if includeInactive {
		q.Set("include_inactive", "true")
	}
	var resp types.BudgetListResponse
	path := "/budgets/scope/" + url.PathEscape(string(scopeType)) + "/" + url.PathEscape(scopeID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Budgets, nil
}

// BudgetStatus fetches the live status of a budget.
func (c *Client) BudgetStatus(ctx context.Context, id string) (*budget.StatusInfo, error) {
	var info budget.StatusInfo
	if err := c.do(ctx, http.MethodGet, "/budgets/"+url.PathEscape(id)+"/status", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListUsage lists usage records of a budget within [since, until). Zero
// bounds are omitted.
func (c *Client) ListUsage(ctx context.Context, id string, since, until time.Time) (*types.UsageListResponse, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}
	if !until.IsZero() {
		q.Set("until", until.Format(time.RFC3339))
	}
	var resp types.UsageListResponse
	if err := c.do(ctx, http.MethodGet, "/budgets/"+url.PathEscape(id)+"/usage", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AcknowledgeAlert acknowledges a fired alert.
func (c *Client) AcknowledgeAlert(ctx context.Context, id string, threshold float64) error {
	path := "/budgets/" + url.PathEscape(id) + "/alerts/" + strconv.FormatFloat(threshold, 'g', -1, 64) + "/acknowledge"
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// CheckConstraints asks whether estimatedCost fits in a budget.
func (c *Client) CheckConstraints(ctx context.Context, id string, estimatedCost float64) (*budget.ConstraintCheck, error) {
	var check budget.ConstraintCheck
	body := types.CheckConstraintsRequest{EstimatedCost: estimatedCost}
	if err := c.do(ctx, http.MethodPost, "/budgets/"+url.PathEscape(id)+"/check-constraints", nil, body, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// Admit runs an admission check. A rejection is a successful call with
// Allow set to false.
func (c *Client) Admit(ctx context.Context, req limits.AdmitRequest) (*types.AdmitResponse, error) {
	var resp types.AdmitResponse
	if err := c.do(ctx, http.MethodPost, "/admission/check", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Circuit fetches the breaker state of a provider.
func (c *Client) Circuit(ctx context.Context, providerID string) (*types.CircuitResponse, error) {
	var resp types.CircuitResponse
	if err := c.do(ctx, http.MethodGet, "/circuits/"+url.PathEscape(providerID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetCircuit force-closes a provider's breaker.
func (c *Client) ResetCircuit(ctx context.Context, providerID string) error {
	return c.do(ctx, http.MethodPost, "/circuits/"+url.PathEscape(providerID)+"/reset", nil, nil, nil)
}

// do sends one request, retrying idempotent methods on retryable failures,
// and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()
	target := u.String()

	attempt := func(ctx context.Context) error {
		return c.send(ctx, method, target, body, out)
	}
	if method == http.MethodPost {
		return attempt(ctx)
	}
	return retry.Do(ctx, c.retry, c.logger, method+" "+path, attempt)
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request", "method", method, "url", target)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewStoreUnavailableError("api", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var envelope types.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Type != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
		apiErr.Fields = envelope.Error.Fields
		apiErr.SuggestedActions = envelope.Error.SuggestedActions
	} else {
		apiErr.Type = typeForStatus(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// typeForStatus classifies responses that carry no envelope, such as a
// proxy's 502 page.
func typeForStatus(code int) string {
	switch code {
	case http.StatusNotFound:
		return types.ErrorTypeNotFound
	case http.StatusTooManyRequests:
		return types.ErrorTypeRateLimitExceeded
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.ErrorTypeServiceUnavailable
	}
	return types.ErrorTypeServerError
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(math.Ceil(secs)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsRejected reports whether err is a rate-limit, circuit or budget denial
// rather than a fault.
func IsRejected(err error) bool {
	return errors.Is(err, apperrors.ErrRateLimited) ||
		errors.Is(err, apperrors.ErrCircuitOpen) ||
		errors.Is(err, apperrors.ErrBudgetConstraint)
}
