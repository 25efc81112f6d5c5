package processes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       attempts,
		PerAttemptTimeout: time.Second,
		InterAttemptDelay: 10 * time.Millisecond,
	}
}

// TestPollHealthyOnThirdAttempt checks polling stops at the first success
func TestPollHealthyOnThirdAttempt(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/system-info" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	result := NewHTTPHealthPoller(quietLogger()).Poll(context.Background(), srv.URL, "/api/system-info", fastPolicy(10), nil)
	if !result.Healthy {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}

	time.Sleep(50 * time.Millisecond)
	if n := requests.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestPollExhausted(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	result := NewHTTPHealthPoller(quietLogger()).Poll(context.Background(), srv.URL, "/api/system-info", fastPolicy(3), nil)
	if result.Healthy {
		t.Fatal("expected unhealthy")
	}
	if result.Attempts != 3 || requests.Load() != 3 {
		t.Errorf("Attempts = %d, requests = %d, want 3 and 3", result.Attempts, requests.Load())
	}
	if result.LastErr == nil || !strings.Contains(result.LastErr.Error(), "500") {
		t.Errorf("LastErr = %v, want a 500 status error", result.LastErr)
	}
}

func TestPollConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := NewHTTPHealthPoller(quietLogger()).Poll(context.Background(), url, "/api/system-info", fastPolicy(2), nil)
	if result.Healthy {
		t.Fatal("expected unhealthy against a closed server")
	}
	if result.LastErr == nil {
		t.Error("expected LastErr to be set")
	}
}

// TestPollCancelled checks cancellation is observed between attempts
func TestPollCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	policy := RetryPolicy{MaxAttempts: 100, PerAttemptTimeout: time.Second, InterAttemptDelay: time.Second}
	start := time.Now()
	result := NewHTTPHealthPoller(quietLogger()).Poll(ctx, srv.URL, "/api/system-info", policy, nil)
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Poll took %v after cancellation", elapsed)
	}
	if result.Healthy {
		t.Fatal("cancelled poll must not be healthy")
	}
	if !errors.Is(result.LastErr, context.Canceled) {
		t.Errorf("LastErr = %v, want context.Canceled", result.LastErr)
	}
}

// TestPollLivenessGate checks a dead process is never reported healthy
func TestPollLivenessGate(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name         string
		aliveResults []bool
		wantRequests int32
	}{
		{"dead before first attempt", []bool{false}, 0},
		{"died during the request", []bool{true, false}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests.Store(0)
			calls := 0
			alive := func() bool {
				r := tt.aliveResults[min(calls, len(tt.aliveResults)-1)]
				calls++
				return r
			}

			result := NewHTTPHealthPoller(quietLogger()).Poll(context.Background(), srv.URL, "/api/system-info", fastPolicy(5), alive)
			if result.Healthy {
				t.Fatal("expected unhealthy when the process is gone")
			}
			if !errors.Is(result.LastErr, errProcessGone) {
				t.Errorf("LastErr = %v, want errProcessGone", result.LastErr)
			}
			if n := requests.Load(); n != tt.wantRequests {
				t.Errorf("server saw %d requests, want %d", n, tt.wantRequests)
			}
		})
	}
}

func TestRetryInitialDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 1, PerAttemptTimeout: time.Second, InitialDelay: 100 * time.Millisecond}
	start := time.Now()
	attempts, err := policy.Do(context.Background(), func(context.Context) error { return nil })
	if err != nil || attempts != 1 {
		t.Fatalf("Do = %d, %v; want 1, nil", attempts, err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("initial delay not honored, took %v", elapsed)
	}
}

func TestRetryAbortStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	attempts, err := fastPolicy(10).Do(context.Background(), func(context.Context) error {
		return Abort(fatal)
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want fatal", err)
	}
}

func TestRetryPerAttemptTimeout(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, PerAttemptTimeout: 50 * time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
