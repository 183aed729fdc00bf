// Package toolgateway invokes operations on remote tool services.
//
// A service publishes its operations at GET {base}/mcp/schema and executes
// them at POST {base}/mcp/tools/{operation}. The schema is fetched once when
// the client is built; a client whose schema could not be fetched rejects
// every call without touching the network.
package toolgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/opsloop/internal/metrics"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultTimeout     = 30 * time.Second

	maxErrorBodyBytes = 4 << 10
)

// ToolSpec describes one operation published by a service.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Schema is the operation catalogue of a service.
type Schema struct {
	Tools     []ToolSpec        `json:"tools"`
	Resources []json.RawMessage `json:"resources,omitempty"`
}

// Client talks to a single tool service.
type Client struct {
	service     string
	baseURL     string
	http        *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger

	schema    Schema
	ops       map[string]ToolSpec
	available bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithRetryPolicy sets the number of retries after the first attempt and the
// delay before the first retry. Each later delay doubles.
func WithRetryPolicy(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if base > 0 {
			c.baseBackoff = base
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for service and fetches its schema. A failed
// fetch is logged and leaves the client unavailable; it is not retried.
func NewClient(ctx context.Context, service, baseURL string, opts ...Option) *Client {
	c := &Client{
		service:     service,
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
		logger:      slog.Default(),
		ops:         map[string]ToolSpec{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "toolgateway", "service", service)

	schema, err := c.fetchSchema(ctx)
	if err != nil {
		c.logger.Warn("tool schema unavailable", "url", c.baseURL, "error", err)
		return c
	}

	c.schema = schema
	for _, t := range schema.Tools {
		c.ops[t.Name] = t
	}
	c.available = true
	c.logger.Info("tool schema loaded", "operations", len(c.ops))
	return c
}

// Service returns the service name.
func (c *Client) Service() string { return c.service }

// Available reports whether the schema was fetched.
func (c *Client) Available() bool { return c.available }

// Schema returns the cached schema.
func (c *Client) Schema() Schema { return c.schema }

// Operations returns the published operation names, sorted.
func (c *Client) Operations() []string {
	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls operation with args, retrying transient failures with
// exponential backoff. Operations are not assumed idempotent; a retried
// restart may run twice.
func (c *Client) Invoke(ctx context.Context, operation string, args any) (Result, error) {
	if !c.available {
		return Result{}, c.fail(operation, 0, 0, "schema was not loaded", ErrSchemaUnavailable)
	}
	if _, ok := c.ops[operation]; !ok {
		return Result{}, c.fail(operation, 0, 0, fmt.Sprintf("operation %q is not published", operation), ErrUnknownOperation)
	}

	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return Result{}, c.fail(operation, 0, 0, fmt.Sprintf("encoding arguments: %v", err), ErrToolRejected)
	}

	start := time.Now()
	var (
		result   Result
		last     *ToolError
		attempts int
	)

	op := func() error {
		attempts++
		res, terr := c.call(ctx, operation, body)
		if terr == nil {
			result = res
			return nil
		}
		last = terr
		if !terr.Retryable() {
			return backoff.Permanent(terr)
		}
		return terr
	}

	notify := func(err error, wait time.Duration) {
		metrics.ToolRetry(c.service, operation)
		c.logger.Warn("retrying tool call",
			"operation", operation,
			"attempt", attempts,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err == nil {
		metrics.ObserveToolCall(c.service, operation, metrics.OutcomeSuccess, time.Since(start))
		return result, nil
	}

	metrics.ObserveToolCall(c.service, operation, metrics.OutcomeError, time.Since(start))

	if last == nil || (ctx.Err() != nil && !errors.As(err, new(*ToolError))) {
		return Result{}, c.fail(operation, 0, attempts, err.Error(), err)
	}
	last.Attempts = attempts
	return Result{}, last
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.baseBackoff << uint(max(c.maxRetries, 1))
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.maxRetries))
}

// call performs one HTTP attempt.
func (c *Client) call(ctx context.Context, operation string, body []byte) (Result, *ToolError) {
	u := fmt.Sprintf("%s/mcp/tools/%s", c.baseURL, url.PathEscape(operation))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Result{}, c.fail(operation, 0, 1, fmt.Sprintf("building request: %v", err), ErrToolRejected)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, c.fail(operation, 0, 1, err.Error(), classifyError(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		kind := ErrToolRejected
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = ErrTransientToolFailure
		}
		return Result{}, c.fail(operation, resp.StatusCode, 1, errorDetail(resp.StatusCode, data), kind)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, c.fail(operation, resp.StatusCode, 1, fmt.Sprintf("reading response: %v", err), classifyError(ctx, err))
	}
	if !json.Valid(data) {
		return Result{}, c.fail(operation, resp.StatusCode, 1, "response is not valid JSON", ErrToolRejected)
	}
	return NewResult(data), nil
}

func (c *Client) fetchSchema(ctx context.Context) (Schema, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/mcp/schema", nil)
	if err != nil {
		return Schema{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Schema{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Schema{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var schema Schema
	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return Schema{}, fmt.Errorf("decoding schema: %w", err)
	}
	return schema, nil
}

func (c *Client) fail(operation string, status, attempts int, msg string, kind error) *ToolError {
	return &ToolError{
		Service:   c.service,
		Operation: operation,
		Status:    status,
		Message:   msg,
		Attempts:  attempts,
		Err:       kind,
	}
}

// classifyError maps transport-level errors to a failure kind. Timeouts and
// connection errors are transient unless the caller's context ended.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransientToolFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrTransientToolFailure
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTransientToolFailure
	}

	return ErrToolRejected
}

// errorDetail prefers the "detail" field of a JSON error body.
func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			return s
		}
		return string(payload.Detail)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}
