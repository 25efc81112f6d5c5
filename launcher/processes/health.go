package processes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomyedwab/medialauncher/launcher/logging"
)

// errProcessGone is returned by the liveness gate when the backend exited
// while it was being polled.
var errProcessGone = errors.New("backend process exited")

// HealthCheckResult summarises a poll. It is never persisted.
type HealthCheckResult struct {
	Healthy  bool
	Attempts int
	Latency  time.Duration // time until the successful attempt, or total time spent
	LastErr  error
}

// HealthPoller decides whether the backend is ready to serve.
type HealthPoller interface {
	// Poll requests endpoint on baseURL until it answers with a 2xx status or
	// the policy is exhausted. alive, when non-nil, is consulted before every
	// attempt and before a success is trusted; once it reports false polling
	// stops as unhealthy.
	Poll(ctx context.Context, baseURL, endpoint string, policy RetryPolicy, alive func() bool) HealthCheckResult
}

// HTTPHealthPoller implements HealthPoller with plain GET requests.
type HTTPHealthPoller struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPHealthPoller creates an HTTPHealthPoller. Per-request timeouts come
// from the RetryPolicy passed to Poll.
func NewHTTPHealthPoller(logger *zerolog.Logger) *HTTPHealthPoller {
	l := logging.Component("HealthPoller")
	if logger != nil {
		l = logger.With().Str("component", "HealthPoller").Logger()
	}
	return &HTTPHealthPoller{
		client: &http.Client{},
		logger: l,
	}
}

func (h *HTTPHealthPoller) Poll(ctx context.Context, baseURL, endpoint string, policy RetryPolicy, alive func() bool) HealthCheckResult {
	url := strings.TrimRight(baseURL, "/") + endpoint
	start := time.Now()

	var lastErr error
	attempts, err := policy.Do(ctx, func(attemptCtx context.Context) error {
		if alive != nil && !alive() {
			return Abort(errProcessGone)
		}
		lastErr = h.check(attemptCtx, url)
		if lastErr != nil {
			h.logger.Debug().Str("url", url).Err(lastErr).Msg("Health check failed")
			return lastErr
		}
		if alive != nil && !alive() {
			lastErr = errProcessGone
			return Abort(errProcessGone)
		}
		return nil
	})

	result := HealthCheckResult{
		Healthy:  err == nil,
		Attempts: attempts,
		Latency:  time.Since(start),
		LastErr:  lastErr,
	}
	if err != nil && !errors.Is(err, lastErr) {
		// Cancellation or the liveness gate ended polling.
		result.LastErr = err
	}
	return result
}

func (h *HTTPHealthPoller) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Abort(fmt.Errorf("failed to create health check request: %w", err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check at %s returned status %s", url, resp.Status)
	}
	return nil
}
