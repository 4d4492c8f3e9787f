package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

const (
	defaultHTTPTimeout  = 15 * time.Second
	defaultRetryInitial = 250 * time.Millisecond
	defaultRetryMax     = 4 * time.Second
	defaultMaxRetries   = 3
)

// HTTPOptions configures the REST client for the board service.
type HTTPOptions struct {
	// BaseURL is the root of the board service, e.g. "https://boards.example.com".
	BaseURL string
	// Token, when set, is sent as a bearer token on every request.
	Token string
	// HTTPClient overrides the underlying client. Defaults to one with a
	// 15s request timeout.
	HTTPClient *http.Client
	// MaxRetries bounds the retry attempts after the first request.
	// Defaults to 3.
	MaxRetries uint64
	// RetryInitial and RetryMax bound the exponential backoff between
	// attempts. Default to 250ms and 4s.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// HTTPClient implements Client against the board service REST API.
//
// Requests that fail with a transport error or a transient status (429,
// 502, 503, 504) are retried with exponential backoff; a Retry-After header
// on the response takes precedence over the computed delay. Every other
// non-2xx status fails immediately.
type HTTPClient struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxRetries   uint64
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewHTTPClient validates opts and returns a ready client. No request is
// made until the first call.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidInput)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryInitial := opts.RetryInitial
	if retryInitial <= 0 {
		retryInitial = defaultRetryInitial
	}
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	return &HTTPClient{
		baseURL:      base,
		token:        strings.TrimSpace(opts.Token),
		httpClient:   httpClient,
		maxRetries:   maxRetries,
		retryInitial: retryInitial,
		retryMax:     retryMax,
	}, nil
}

// FetchAll returns every object on the board.
func (c *HTTPClient) FetchAll(ctx context.Context, boardID string) ([]board.Object, error) {
	if strings.TrimSpace(boardID) == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrInvalidInput)
	}
	var objects []board.Object
	path := "/api/boards/" + url.PathEscape(boardID) + "/objects"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// Create inserts a full object. The board service upserts on id, so
// replaying a create after a crash is safe.
func (c *HTTPClient) Create(ctx context.Context, obj board.Object) error {
	if strings.TrimSpace(obj.ID) == "" || strings.TrimSpace(obj.BoardID) == "" {
		return fmt.Errorf("%w: object id and board id are required", ErrInvalidInput)
	}
	path := "/api/boards/" + url.PathEscape(obj.BoardID) + "/objects"
	return c.doJSON(ctx, http.MethodPost, path, obj, nil)
}

// Patch merges changes into an existing object. Returns ErrNotFound when
// the id is unknown to the service.
func (c *HTTPClient) Patch(ctx context.Context, objectID string, changes map[string]any) error {
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	if len(changes) == 0 {
		return nil
	}
	return c.doJSON(ctx, http.MethodPatch, "/api/objects/"+url.PathEscape(objectID), changes, nil)
}

// Delete removes an object. Returns ErrNotFound when the id is unknown.
func (c *HTTPClient) Delete(ctx context.Context, objectID string) error {
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	return c.doJSON(ctx, http.MethodDelete, "/api/objects/"+url.PathEscape(objectID), nil, nil)
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// doJSON sends one JSON request and decodes the response into out (when
// non-nil), retrying transient failures.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = data
	}

	// retryAfter carries the Retry-After hint from the last transient
	// response into the backoff policy.
	var retryAfter time.Duration

	attempt := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, path, err))
			}
			return nil
		}

		statusErr := &StatusError{Code: resp.StatusCode, Message: responseMessage(data)}
		if retryableStatus(resp.StatusCode) {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return statusErr
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", method, path, ErrNotFound))
		}
		return backoff.Permanent(statusErr)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxInterval = c.retryMax
	policy.MaxElapsedTime = 0
	paced := &retryAfterPolicy{BackOff: policy, hint: &retryAfter, max: c.retryMax}
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(paced, c.maxRetries), ctx))
}

// retryAfterPolicy defers to the wrapped policy unless the last response
// carried a positive Retry-After hint, which takes precedence (capped at
// max).
type retryAfterPolicy struct {
	backoff.BackOff
	hint *time.Duration
	max  time.Duration
}

func (p *retryAfterPolicy) NextBackOff() time.Duration {
	next := p.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if hint := *p.hint; hint > 0 {
		*p.hint = 0
		if p.max > 0 && hint > p.max {
			hint = p.max
		}
		return hint
	}
	return next
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func responseMessage(data []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	snippet := strings.TrimSpace(string(data))
	const maxSnippet = 200
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return snippet
}
