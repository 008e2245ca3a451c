package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/twweather/tempmap/internal/observability"
)

// DatasetFetcher fetches the raw CWA open-data document. The extraction
// heuristic works on the decoded JSON, so the client returns the document
// as-is rather than mapping it to a typed response.
type DatasetFetcher interface {
	FetchDataset(ctx context.Context) (any, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid authorization key")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// CWAClient fetches a CWA open-data dataset over HTTPS with bounded retries
// and an optional circuit breaker.
type CWAClient struct {
	datasetURL     string
	apiKey         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// NewCWAClient returns a client with default retry settings.
func NewCWAClient(datasetURL, apiKey string, timeout time.Duration) (*CWAClient, error) {
	return NewCWAClientWithRetry(datasetURL, apiKey, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewCWAClientWithRetry returns a client with explicit retry settings.
// apiKey may be empty: the static dataset endpoints are public and only the
// datastore API requires an authorization key.
func NewCWAClientWithRetry(datasetURL, apiKey string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*CWAClient, error) {
	if datasetURL == "" {
		return nil, fmt.Errorf("dataset URL is required")
	}
	if _, err := url.Parse(datasetURL); err != nil {
		return nil, fmt.Errorf("invalid dataset URL: %w", err)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &CWAClient{
		datasetURL:     datasetURL,
		apiKey:         apiKey,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker installs a breaker around individual fetch attempts.
// A breaker in the open state fails attempts fast without touching upstream.
func (c *CWAClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// SourceURL returns the configured dataset URL.
func (c *CWAClient) SourceURL() string {
	return c.datasetURL
}

// FetchDataset fetches and decodes the dataset, retrying transient failures
// with exponential backoff and jitter.
func (c *CWAClient) FetchDataset(ctx context.Context) (any, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.CWAFetchRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var doc any
		var err error
		if c.breaker != nil {
			var res any
			res, err = c.breaker.Execute(func() (any, error) {
				return c.fetchOnce(ctx)
			})
			if err == nil {
				doc = res
			}
		} else {
			doc, err = c.fetchOnce(ctx)
		}
		if err == nil {
			return doc, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *CWAClient) fetchOnce(ctx context.Context) (any, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx)
	if err != nil {
		observability.CWAFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.CWAFetchesTotal.WithLabelValues("error").Inc()
		observability.CWAFetchDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.CWAFetchesTotal.WithLabelValues(status).Inc()
	observability.CWAFetchDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return doc, nil
}

func (c *CWAClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// The breaker already decided upstream is down; retrying within this
	// call would only burn the backoff budget.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}
	return false
}

func (c *CWAClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *CWAClient) buildRequest(ctx context.Context) (*http.Request, error) {
	baseURL, err := url.Parse(c.datasetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset URL: %w", err)
	}

	if c.apiKey != "" {
		params := baseURL.Query()
		params.Set("Authorization", c.apiKey)
		baseURL.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *CWAClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrDatasetNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ReadDatasetFile decodes a local JSON dump of the dataset. Used by the
// fetch CLI's --file flag to re-process a saved payload without hitting
// the network.
func ReadDatasetFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse dataset file %s: %w", path, err)
	}
	return doc, nil
}
