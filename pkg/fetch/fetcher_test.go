package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// testConfig returns an AppConfig with fast retry delays for testing
func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:        maxRetries,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// mockServer returns status codes in sequence, repeating the last one.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetchWithRetry_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		codes        []int
		retries      int
		wantStatus   int   // 0 = expect nil response
		wantErr      error // nil = expect success
		wantAttempts int32
	}{
		{"200 first try", []int{200}, 3, 200, nil, 1},
		{"5xx then success", []int{500, 502, 200}, 3, 200, nil, 3},
		{"429 then success", []int{429, 200}, 3, 200, nil, 2},
		{"mixed retryable then success", []int{500, 429, 500, 200}, 3, 200, nil, 4},
		{"5xx exhausted", []int{500}, 3, 0, utils.ErrServerHTTPError, 4},
		{"429 exhausted", []int{429}, 2, 0, utils.ErrRetryFailed, 3},
		{"zero retries", []int{500}, 0, 0, utils.ErrRetryFailed, 1},
		{"400 returned without retry", []int{400}, 3, 400, utils.ErrClientHTTPError, 1},
		{"404 returned without retry", []int{404}, 3, 404, utils.ErrClientHTTPError, 1},
		{"3xx is other", []int{304}, 3, 304, utils.ErrOtherHTTPError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, tt.codes)
			fetcher := NewFetcher(testClient(), testConfig(tt.retries), nil, testLogger())
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, err := fetcher.FetchWithRetry(context.Background(), req)
			if resp != nil {
				defer resp.Body.Close()
			}

			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantStatus == 0 {
				assert.Nil(t, resp)
			} else {
				require.NotNil(t, resp)
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			}
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestFetchWithRetry_ContextCancelledBeforeAttempt(t *testing.T) {
	server, attempts := mockServer(t, []int{200})
	fetcher := NewFetcher(testClient(), testConfig(3), nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp)
	assert.Equal(t, int32(0), attempts.Load())
}

func TestFetchWithRetry_ContextTimeoutDuringBackoff(t *testing.T) {
	server, attempts := mockServer(t, []int{500})
	cfg := testConfig(3)
	cfg.InitialRetryDelay = 10 * time.Second
	cfg.MaxRetryDelay = 10 * time.Second
	fetcher := NewFetcher(testClient(), cfg, nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError, "last attempt's error stays wrapped")
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchWithRetry_ContextTimeoutDuringRequest(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	fetcher := NewFetcher(testClient(), testConfig(3), nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, slow.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, resp)
}

func TestFetchWithRetry_NetworkErrorRetried(t *testing.T) {
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attemptCount.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server doesn't support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(testClient(), testConfig(3), nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attemptCount.Load())
}

func TestFetchWithRetry_PostBodyReplayed(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if attemptCount.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(testClient(), testConfig(2), nil, testLogger())
	req, _ := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte("q=proceedings")))

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"q=proceedings", "q=proceedings"}, bodies)
}

func TestFetchWithRetry_UsesHostLimiter(t *testing.T) {
	server, attempts := mockServer(t, []int{200})
	limiter := newTestLimiter(1, 0)
	fetcher := NewFetcher(testClient(), testConfig(0), limiter, testLogger())

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		resp, err := fetcher.FetchWithRetry(context.Background(), req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, limiter.Len())
	// All permits released: a fresh acquire with a short deadline succeeds
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u := httptest.NewRequest(http.MethodGet, server.URL, nil).URL
	release, err := limiter.Acquire(ctx, u.Host)
	require.NoError(t, err)
	release()
}

func TestNewClient_DefaultHeaders(t *testing.T) {
	headers := make(chan http.Header, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
	}))
	t.Cleanup(server.Close)

	cfg := config.AppConfig{}
	_, err := cfg.Validate()
	require.NoError(t, err)
	client := NewClient(cfg.HTTPClientSettings, DefaultHeaders("scraper-test", "SESS=abc"), testLogger())

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	got := <-headers
	assert.Equal(t, "SESS=abc", got.Get("Cookie"))
	assert.Equal(t, "scraper-test", got.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Cookie"), "caller's request is not modified")

	// An explicit header on the request wins
	req, _ = http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "override")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "override", (<-headers).Get("User-Agent"))
}

func TestBackoffDelay(t *testing.T) {
	assert.InDelta(t, float64(100*time.Millisecond), float64(backoffDelay(1, 100*time.Millisecond, time.Second)), float64(11*time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(backoffDelay(3, 100*time.Millisecond, time.Second)), float64(41*time.Millisecond))
	assert.LessOrEqual(t, backoffDelay(10, 100*time.Millisecond, time.Second), 1100*time.Millisecond)
	assert.Equal(t, time.Duration(0), addJitter(0))
}
