// Package backend is the HTTP client for the job backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/network"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// Endpoint paths that are not tied to a tool.
const (
	historyPathPrefix = "/api/history/"
	counterDataPath   = "/api/counterData"
)

// Doer is the subset of *http.Client the backend needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the job backend. Every call carries the identity headers
// given by the caller; the client never caches them.
type Client struct {
	baseURL *url.URL
	doer    Doer
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter paces outbound requests.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("backend") }
}

// New creates a Client for baseURL using doer for transport.
func New(baseURL string, doer Doer, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base url %q must be absolute", baseURL)
	}
	if doer == nil {
		doer = network.NewClient(nil)
	}
	c := &Client{baseURL: u, doer: doer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig builds the transport and limiter from configuration.
func NewFromConfig(cfg config.BackendConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cc, err := network.ClientConfigFromBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLogger(logger)}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)))
	}
	return New(cfg.BaseURL, network.NewClient(cc), opts...)
}

// Submit enqueues one job. Any failure, including a response without a task
// id, is a submission error; there are no retries.
func (c *Client) Submit(ctx context.Context, sub schemas.Submission, headers identity.Headers) (schemas.JobHandle, error) {
	const op = "submit"
	if err := sub.Validate(); err != nil {
		return schemas.JobHandle{}, err
	}
	tool, _ := schemas.LookupTool(sub.Kind)

	body, err := jsonAPI.Marshal(sub.Body())
	if err != nil {
		return schemas.JobHandle{}, schemas.NewJobError(schemas.ErrSubmission, op, err)
	}

	resp, err := c.do(ctx, http.MethodPost, tool.SubmitPath, body, headers)
	if err != nil {
		return schemas.JobHandle{}, schemas.NewJobError(schemas.ErrSubmission, op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return schemas.JobHandle{}, statusError(schemas.ErrSubmission, op, resp)
	}

	var handle schemas.JobHandle
	if err := decode(resp.Body, &handle); err != nil {
		return schemas.JobHandle{}, &schemas.JobError{Kind: schemas.ErrSubmission, Op: op, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	if handle.IsZero() {
		return schemas.JobHandle{}, &schemas.JobError{Kind: schemas.ErrSubmission, Op: op, Status: resp.StatusCode, Message: "response has no task_id"}
	}

	c.logger.Debug("Job submitted", zap.String("tool", string(sub.Kind)), zap.String("task_id", handle.TaskID))
	return handle, nil
}

// Status performs one status query. Transport failures, non-2xx responses
// and undecodable bodies are all poll transport errors.
func (c *Client) Status(ctx context.Context, kind schemas.ToolKind, handle schemas.JobHandle, headers identity.Headers) (schemas.Snapshot, error) {
	const op = "poll"
	tool, ok := schemas.LookupTool(kind)
	if !ok {
		return schemas.Snapshot{}, &schemas.JobError{Kind: schemas.ErrPollTransport, Op: op, Message: fmt.Sprintf("unknown tool kind %q", kind)}
	}

	resp, err := c.do(ctx, http.MethodGet, tool.StatusPath(handle.TaskID), nil, headers)
	if err != nil {
		return schemas.Snapshot{}, schemas.NewJobError(schemas.ErrPollTransport, op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return schemas.Snapshot{}, statusError(schemas.ErrPollTransport, op, resp)
	}

	var snap schemas.Snapshot
	if err := decode(resp.Body, &snap); err != nil {
		return schemas.Snapshot{}, &schemas.JobError{Kind: schemas.ErrPollTransport, Op: op, Status: resp.StatusCode, Message: "malformed status response", Err: err}
	}
	return snap, nil
}

// History lists past jobs for a principal id. A non-2xx response is a
// history server error carrying the status code, so callers can single out 401.
func (c *Client) History(ctx context.Context, principalID string, headers identity.Headers) ([]schemas.HistoryEntry, error) {
	const op = "history"
	resp, err := c.do(ctx, http.MethodGet, historyPathPrefix+url.PathEscape(principalID), nil, headers)
	if err != nil {
		return nil, schemas.NewJobError(schemas.ErrHistoryTransport, op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(schemas.ErrHistoryServer, op, resp)
	}

	var entries []schemas.HistoryEntry
	if err := decode(resp.Body, &entries); err != nil {
		return nil, &schemas.JobError{Kind: schemas.ErrHistoryServer, Op: op, Status: resp.StatusCode, Message: "malformed history response", Err: err}
	}
	return entries, nil
}

// Counters fetches the dashboard counters. The backend answers with either
// an array of counters or an object keyed by arbitrary names.
func (c *Client) Counters(ctx context.Context, headers identity.Headers) (schemas.CounterSnapshot, error) {
	const op = "counters"
	resp, err := c.do(ctx, http.MethodGet, counterDataPath, nil, headers)
	if err != nil {
		return schemas.CounterSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return schemas.CounterSnapshot{}, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := decode(resp.Body, &raw); err != nil {
		return schemas.CounterSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	var list []schemas.Counter
	if err := jsonAPI.Unmarshal(raw, &list); err == nil {
		return schemas.NewCounterSnapshot(list), nil
	}
	var keyed map[string]schemas.Counter
	if err := jsonAPI.Unmarshal(raw, &keyed); err != nil {
		return schemas.CounterSnapshot{}, fmt.Errorf("%s: unrecognised counter payload: %w", op, err)
	}
	for _, counter := range keyed {
		list = append(list, counter)
	}
	return schemas.NewCounterSnapshot(list), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers identity.Headers) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	headers.Apply(req)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return resp, nil
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }

func decode(r io.Reader, v interface{}) error {
	return jsonAPI.NewDecoder(r).Decode(v)
}

func statusError(kind schemas.ErrorKind, op string, resp *http.Response) *schemas.JobError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(excerpt))
	var payload struct {
		Error string `json:"error"`
	}
	if err := jsonAPI.Unmarshal(excerpt, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &schemas.JobError{Kind: kind, Op: op, Status: resp.StatusCode, Message: msg}
}
