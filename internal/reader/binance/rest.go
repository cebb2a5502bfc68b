package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"marketdash/config"
	"marketdash/internal/metrics"
	binancemetrics "marketdash/internal/metrics/binance"
	ratemetrics "marketdash/internal/metrics/rate"
	"marketdash/logger"
)

// ErrFetchFailed is returned once every attempt of a REST fetch has failed.
// The last attempt's error is wrapped alongside it.
var ErrFetchFailed = errors.New("rest fetch failed")

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// RestClient performs retrying GET requests against the Binance REST API.
// Attempts are immediate with no backoff; each one gets its own timeout.
type RestClient struct {
	client  *binance.Client
	retries int
	timeout time.Duration
	log     *logger.Log

	mu      sync.RWMutex
	limiter *rate.Limiter

	// weightLimit is the discovered REQUEST_WEIGHT per minute, 0 until known.
	weightLimit atomic.Int64
}

// NewRestClient builds a client for baseURL. The underlying go-binance client
// owns the HTTP client and base URL so typed services share the same transport.
func NewRestClient(baseURL string, cfg config.RestConfig, log *logger.Log) *RestClient {
	if log == nil {
		log = logger.GetLogger()
	}

	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Transport: transport}
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &RestClient{
		client:  client,
		retries: retries,
		timeout: timeout,
		log:     log,
	}
	c.SetRateLimit(cfg.RequestsPerSecond, cfg.Burst)

	log.WithComponent("rest_client").WithFields(logger.Fields{
		"base_url":            client.BaseURL,
		"retries":             retries,
		"timeout":             timeout.String(),
		"requests_per_second": cfg.RequestsPerSecond,
	}).Info("rest client initialized")

	return c
}

// Client exposes the go-binance client backing this RestClient.
func (c *RestClient) Client() *binance.Client {
	return c.client
}

// SetHTTPClient replaces the transport, e.g. with an httptest client.
func (c *RestClient) SetHTTPClient(hc *http.Client) {
	c.client.HTTPClient = hc
}

// SetRateLimit paces outgoing attempts. A non-positive rate disables pacing.
func (c *RestClient) SetRateLimit(requestsPerSecond float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if requestsPerSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// DiscoverWeightLimit reads the exchange REQUEST_WEIGHT budget and lowers the
// configured pacing when it would spend more than half of it.
func (c *RestClient) DiscoverWeightLimit(ctx context.Context, requestWeight int) (int64, error) {
	limit, err := ratemetrics.FetchRequestWeightLimit(ctx, c.client)
	if err != nil {
		return 0, err
	}

	c.weightLimit.Store(limit)

	allowed := ratemetrics.RequestsPerSecond(limit, requestWeight, 0.5)
	if allowed <= 0 {
		return limit, nil
	}

	c.mu.Lock()
	if c.limiter == nil || float64(c.limiter.Limit()) > allowed {
		burst := 1
		if c.limiter != nil {
			burst = c.limiter.Burst()
		}
		c.limiter = rate.NewLimiter(rate.Limit(allowed), burst)
	}
	c.mu.Unlock()

	c.log.WithComponent("rest_client").WithFields(logger.Fields{
		"weight_limit":        limit,
		"requests_per_second": allowed,
	}).Info("request weight limit discovered")

	return limit, nil
}

// Get fetches path with the client's configured retries and timeout.
func (c *RestClient) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.Fetch(ctx, path, params, c.retries, c.timeout)
}

// Fetch issues up to retries GET attempts for path, each bounded by timeout,
// and returns the first successful JSON body. Every attempt is logged. After
// the last failure it returns an error wrapping ErrFetchFailed.
func (c *RestClient) Fetch(ctx context.Context, path string, params url.Values, retries int, timeout time.Duration) (json.RawMessage, error) {
	if retries <= 0 {
		retries = 1
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	log := c.log.WithComponent("rest_client").WithFields(logger.Fields{
		"path":   path,
		"params": params.Encode(),
	})

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, path, err)
		}

		start := time.Now()
		body, err := c.attempt(ctx, path, params, timeout)
		duration := time.Since(start)

		if err == nil {
			metrics.EmitRestAttempt(c.log, path, "success", attempt)
			log.Timing("api_request", duration, logger.Fields{"attempt": attempt})
			return body, nil
		}

		lastErr = err
		metrics.EmitRestAttempt(c.log, path, "failure", attempt)
		log.WithFields(logger.Fields{
			"attempt":     attempt,
			"retries":     retries,
			"duration_ms": duration.Milliseconds(),
		}).WithError(err).Warn("rest attempt failed")
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrFetchFailed, path, retries, lastErr)
}

func (c *RestClient) attempt(ctx context.Context, path string, params url.Values, timeout time.Duration) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(attemptCtx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	reqURL := c.client.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if w, ok := binancemetrics.ReportUsedWeight(c.log, resp.Header, path, c.weightLimit.Load()); ok && w.Share >= 0.8 {
		c.log.WithComponent("rest_client").WithFields(logger.Fields{
			"path":        path,
			"used_weight": w.Used,
			"share":       w.Share,
		}).Warn("request weight budget nearly exhausted")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		ratemetrics.ReportLimitFromResponse(c.log, path, resp.StatusCode, text)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, text)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	return json.RawMessage(body), nil
}
