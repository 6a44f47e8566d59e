package simclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/explant/explant/internal/telemetry"
)

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Record(_ context.Context, ev telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count(kind telemetry.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) delays() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, ev := range s.events {
		if ev.Kind == telemetry.KindRetry {
			out = append(out, ev.DelayMs)
		}
	}
	return out
}

func testRequest() SimulationRequest {
	return SimulationRequest{
		RegionID:  60,
		StartDate: time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC),
		Daily:     false,
		Water:     "FC",
		Crop:      "Maize",
	}
}

const okBody = `{"solo":{"efic":2.1,"stress":40,"prod":10},"crescimento":[{"alt_cm":10,"bio_ton":1}]}`

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://example.invalid", MaxRetries: -4, BaseRetryDelay: 10 * time.Millisecond})

	if c.config.Timeout != DefaultTimeout {
		t.Errorf("timeout: expected %s, got %s", DefaultTimeout, c.config.Timeout)
	}
	if c.MaxAttempts() != 1 {
		t.Errorf("negative retries: expected 1 attempt, got %d", c.MaxAttempts())
	}
	if c.config.BaseRetryDelay != MinBaseRetryDelay {
		t.Errorf("base delay: expected floor %s, got %s", MinBaseRetryDelay, c.config.BaseRetryDelay)
	}

	d := NewClient(DefaultConfig("http://example.invalid"))
	if d.MaxAttempts() != DefaultMaxRetries+1 {
		t.Errorf("default attempts: expected %d, got %d", DefaultMaxRetries+1, d.MaxAttempts())
	}
	if d.config.BaseRetryDelay != DefaultBaseRetryDelay {
		t.Errorf("default base delay: got %s", d.config.BaseRetryDelay)
	}
}

func TestSetAuthToken(t *testing.T) {
	c := NewClient(Config{})
	c.SetAuthToken("  secret ")

	if c.AuthToken() != "secret" {
		t.Errorf("expected trimmed token, got %q", c.AuthToken())
	}
}

func TestSimulateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing Content-Type header")
		}
		if r.Header.Get("X-Client") != "explant" {
			t.Errorf("extra header not sent")
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization header: got %q", r.Header.Get("Authorization"))
		}

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("request body is not JSON: %v", err)
		}
		want := map[string]any{
			"regiao": float64(60),
			"dt_i":   "2024-10-15",
			"dt_f":   "2025-10-03",
			"daily":  false,
			"agua":   "FC",
			"crop":   "Maize",
		}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("body[%s]: expected %v, got %v", k, v, body[k])
			}
		}

		w.Write([]byte(okBody))
	}))
	defer server.Close()

	sink := &recordingSink{}
	c := NewClient(Config{
		Endpoint: server.URL,
		Headers:  map[string]string{"X-Client": "explant"},
		Sink:     sink,
	})
	c.SetAuthToken("tok")

	resp, err := c.Simulate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if resp.Soil == nil || ValueOr(resp.Soil.Efficiency, 0) != 2.1 {
		t.Errorf("soil not decoded: %+v", resp.Soil)
	}
	if !resp.HasGrowth || len(resp.Growth) != 1 {
		t.Errorf("growth not decoded: %+v", resp.Growth)
	}
	if sink.count(telemetry.KindAttempt) != 1 || sink.count(telemetry.KindSuccess) != 1 {
		t.Errorf("expected one attempt and one success event, got %+v", sink.events)
	}
}

func TestSimulateTimeoutsExhaustRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink := &recordingSink{}
	c := NewClient(Config{
		Endpoint:       server.URL,
		Timeout:        50 * time.Millisecond,
		MaxRetries:     2,
		BaseRetryDelay: 100 * time.Millisecond,
		Sink:           sink,
	})

	_, err := c.Simulate(context.Background(), testRequest())

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Attempt != 3 {
		t.Errorf("expected failure on attempt 3, got %d", timeoutErr.Attempt)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	delays := sink.delays()
	if len(delays) != 2 || delays[0] != 100 || delays[1] != 200 {
		t.Errorf("expected backoff 100ms then 200ms, got %v", delays)
	}
	if sink.count(telemetry.KindFailure) != 1 {
		t.Errorf("expected one failure event")
	}
}

func TestSimulateRetriesServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("busy"))
			return
		}
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 3, BaseRetryDelay: 100 * time.Millisecond})

	resp, err := c.Simulate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if !resp.HasData() {
		t.Errorf("expected data in response")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestSimulateHonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer server.Close()

	sink := &recordingSink{}
	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 1, BaseRetryDelay: 100 * time.Millisecond, Sink: sink})

	start := time.Now()
	if _, err := c.Simulate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
		t.Errorf("expected Retry-After wait, finished in %s", elapsed)
	}
	if delays := sink.delays(); len(delays) != 1 || delays[0] != 500 {
		t.Errorf("expected a single 500ms delay, got %v", delays)
	}
}

func TestSimulateClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad region"))
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 3})

	_, err := c.Simulate(context.Background(), testRequest())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 400 || httpErr.Body != "bad region" {
		t.Errorf("unexpected error contents: %+v", httpErr)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestSimulateServerErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 1, BaseRetryDelay: 100 * time.Millisecond})

	_, err := c.Simulate(context.Background(), testRequest())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 502 {
		t.Fatalf("expected HTTP 502 error, got %v", err)
	}
}

func TestSimulateBadJSONIsNetworkError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte("<html>gateway</html>"))
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 1, BaseRetryDelay: 100 * time.Millisecond})

	_, err := c.Simulate(context.Background(), testRequest())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("decode failures should be retried: expected 2 attempts, got %d", got)
	}
}

func TestSimulateWrongShapeNotRetried(t *testing.T) {
	for _, body := range []string{`[]`, `{"solo":"unavailable"}`} {
		t.Run(body, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.Write([]byte(body))
			}))
			defer server.Close()

			sink := &recordingSink{}
			c := NewClient(Config{Endpoint: server.URL, MaxRetries: 2, BaseRetryDelay: 100 * time.Millisecond, Sink: sink})

			_, err := c.Simulate(context.Background(), testRequest())

			var shapeErr *ShapeError
			if !errors.As(err, &shapeErr) {
				t.Fatalf("expected ShapeError, got %v", err)
			}
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				t.Errorf("wrong-shaped reply must not be a NetworkError")
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("expected a single attempt, got %d", got)
			}
			if sink.count(telemetry.KindRetry) != 0 {
				t.Errorf("expected no retry events")
			}
		})
	}
}

func TestSimulateRateLimitedRetryClass(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte(okBody))
		}
	}))
	defer server.Close()

	sink := &recordingSink{}
	c := NewClient(Config{Endpoint: server.URL, MaxRetries: 2, BaseRetryDelay: 100 * time.Millisecond, Sink: sink})

	if _, err := c.Simulate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	var classes []string
	sink.mu.Lock()
	for _, ev := range sink.events {
		if ev.Kind == telemetry.KindRetry {
			classes = append(classes, ev.Class)
		}
	}
	sink.mu.Unlock()
	if len(classes) != 2 || classes[0] != ClassRateLimited || classes[1] != "http_error" {
		t.Errorf("expected retry classes [%s http_error], got %v", ClassRateLimited, classes)
	}
}

func TestWorstCase(t *testing.T) {
	cfg := Config{MaxRetries: 2}
	// 3 attempts of 2m, 600+1200 ms of backoff.
	want := 3*DefaultTimeout + 1800*time.Millisecond
	if got := cfg.WorstCase(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got := cfg.Normalize(); got.Timeout != DefaultTimeout || got.BaseRetryDelay != DefaultBaseRetryDelay {
		t.Errorf("Normalize did not apply defaults: %+v", got)
	}
}

func TestSimulateConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(Config{Endpoint: url, MaxRetries: 0})

	_, err := c.Simulate(context.Background(), testRequest())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestSimulateNoEndpoint(t *testing.T) {
	c := NewClient(Config{})

	_, err := c.Simulate(context.Background(), testRequest())
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestSimulateParentCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(Config{Endpoint: server.URL, Timeout: 10 * time.Second, MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Simulate(ctx, testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel should stop the loop immediately, took %s", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{" 1.5 ", 1500 * time.Millisecond},
		{"0", 0},
		{"-3", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
