package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request id the backend can log.
const RequestIDHeader = "X-Request-ID"

// defaultRetryDelay is the first backoff step for GET retries.
const defaultRetryDelay = 500 * time.Millisecond

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// -----------------------------------------------------------------------------

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %d", e.StatusCode)
	}
	return fmt.Sprintf("bad status: %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// -----------------------------------------------------------------------------

type NetworkManager struct {
	Client     *http.Client
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *logger.Logger
}

// -----------------------------------------------------------------------------

func NewNetworkManager(cfg *models.MBackendConfig, log *logger.Logger) *NetworkManager {
	if log == nil {
		log = logger.NewLogger(nil, "NetworkManager")
	}
	return &NetworkManager{
		Client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: defaultRetryDelay,
		Logger:     log,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request, retrying transport errors, 429 and 5xx with
// exponential backoff. Other statuses fail immediately.
func (nm *NetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	finalURL, err := withQuery(urlStr, params)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = helpers.RetryWithBackoff(ctx, "GET "+finalURL, nm.MaxRetries, nm.RetryDelay, nm.Logger, func() error {
		b, err := nm.do(ctx, http.MethodGet, finalURL, nil)
		if err != nil {
			if se, ok := err.(*StatusError); ok && !se.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, helpers.NewNetworkError("GET "+finalURL, err)
	}
	return body, nil
}

// -----------------------------------------------------------------------------

// PostJSON sends payload as a JSON body. Commands are not idempotent, so a
// failed POST is never repeated.
func (nm *NetworkManager) PostJSON(ctx context.Context, urlStr string, params map[string]string, payload interface{}) ([]byte, error) {
	finalURL, err := withQuery(urlStr, params)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	body, err := nm.do(ctx, http.MethodPost, finalURL, reader)
	if err != nil {
		return nil, helpers.NewNetworkError("POST "+finalURL, err)
	}
	return body, nil
}

// -----------------------------------------------------------------------------

func (nm *NetworkManager) do(ctx context.Context, method, urlStr string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if nm.UserAgent != "" {
		req.Header.Set("User-Agent", nm.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := nm.Client.Do(req)
	if err != nil {
		nm.Logger.Debug("%s %s [%s] failed: %v", method, urlStr, requestID, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	nm.Logger.Debug("%s %s [%s] -> %d in %v", method, urlStr, requestID, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	return data, nil
}

// -----------------------------------------------------------------------------

func withQuery(urlStr string, params map[string]string) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return u.String(), nil
	}

	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
