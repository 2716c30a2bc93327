package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Mindburn-Labs/avs/pkg/capability"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

const (
	DefaultClientTimeout = 10 * time.Second
	DefaultMaxTries      = 4
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Status int
	Body   ErrorBody
}

func (e *StatusError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("gateway: %d %s: %s", e.Status, e.Body.Code, e.Body.Error)
	}
	return fmt.Sprintf("gateway: %d: %s", e.Status, e.Body.Error)
}

// Unwrap maps the response code back to its sentinel so callers can use
// errors.Is across the wire.
func (e *StatusError) Unwrap() error {
	if err := contracts.FromKind(e.Body.Code); err != nil {
		return err
	}
	if e.Status >= 400 && e.Status < 500 {
		return contracts.ErrMalformed
	}
	return contracts.ErrUpstreamUnavailable
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// Client talks to a gateway. Network errors, 429 and 5xx responses are
// retried with exponential backoff; other 4xx responses are final.
type Client struct {
	baseURL  string
	http     *http.Client
	maxTries uint
	initial  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(maxTries uint, initial time.Duration) ClientOption {
	return func(c *Client) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if initial > 0 {
			c.initial = initial
		}
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultClientTimeout},
		maxTries: DefaultMaxTries,
		initial:  200 * time.Millisecond,
		maxWait:  2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint obtains a token from the gateway and introspects it so the caller
// holds verified claims.
func (c *Client) Mint(ctx context.Context, req capability.IssueRequest) (capability.Token, error) {
	body := MintRequest{
		Sub:    req.Subject,
		Act:    req.Action,
		Res:    req.Resource,
		Scope:  req.Scope,
		Limits: req.Limits,
	}
	if req.TTL > 0 {
		secs := int64(req.TTL / time.Second)
		body.TTL = &secs
	}
	var minted MintResponse
	if err := c.do(ctx, http.MethodPost, "/mint-ct", body, &minted); err != nil {
		return capability.Token{}, err
	}
	claims, err := c.Introspect(ctx, minted.Token)
	if err != nil {
		return capability.Token{}, err
	}
	return capability.Token{Raw: minted.Token, Claims: claims}, nil
}

func (c *Client) Introspect(ctx context.Context, token string) (*contracts.CapabilityClaims, error) {
	var resp IntrospectResponse
	if err := c.do(ctx, http.MethodPost, "/introspect-ct", IntrospectRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid || resp.Payload == nil {
		return nil, fmt.Errorf("%w: introspection returned no claims", contracts.ErrMalformed)
	}
	return resp.Payload, nil
}

// Ingest submits a provenance record.
func (c *Client) Ingest(ctx context.Context, rec contracts.ProvenanceRecord) error {
	var resp IngestResponse
	if err := c.do(ctx, http.MethodPost, "/ingest-pr", rec, &resp); err != nil {
		return err
	}
	if resp.Hash != rec.Hash {
		return fmt.Errorf("%w: gateway acknowledged hash %q, sent %q", contracts.ErrMalformed, resp.Hash, rec.Hash)
	}
	return nil
}

func (c *Client) Trace(ctx context.Context, traceID string) ([]contracts.ProvenanceRecord, error) {
	var resp TraceResponse
	if err := c.do(ctx, http.MethodGet, "/traces/"+url.PathEscape(traceID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.maxWait
	return b
}

// do performs one logical call. Exhausted retries surface as
// ErrUpstreamUnavailable; final 4xx responses as *StatusError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", contracts.ErrMalformed, err)
		}
		payload = b
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.DebugContext(ctx, "gateway request failed", "path", path, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return struct{}{}, err
		}

		if resp.StatusCode >= 300 {
			se := &StatusError{Status: resp.StatusCode}
			if json.Unmarshal(data, &se.Body) != nil || se.Body.Error == "" {
				se.Body.Error = strings.TrimSpace(string(data))
			}
			if retryable(resp.StatusCode) {
				c.logger.DebugContext(ctx, "gateway returned retryable status", "path", path, "attempt", attempt, "status", resp.StatusCode)
				return struct{}{}, se
			}
			return struct{}{}, backoff.Permanent(se)
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: decode %s response: %v", contracts.ErrMalformed, path, err))
			}
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && !retryable(se.Status) {
		return se
	}
	if errors.Is(err, contracts.ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %v", contracts.ErrUpstreamUnavailable, method, path, attempt, err)
}
