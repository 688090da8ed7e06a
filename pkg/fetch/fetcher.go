package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Fetcher sends HTTP requests with retry and per-host limits, using an underlying http.Client
type Fetcher struct {
	client  *http.Client
	cfg     *config.AppConfig // Retry settings
	limiter *HostLimiter      // Optional; nil disables per-host limits
	log     *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, limiter *HostLimiter, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		log:     log,
	}
}

// FetchWithRetry performs an HTTP request bound to ctx.
// Network errors, 5xx and 429 are retried with exponential backoff and jitter.
// Any other non-2xx status is returned at once together with a wrapped error; the caller must close the body in that case too.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithFields(logrus.Fields{"url": req.URL.String(), "method": req.Method})

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			finalDelay := backoffDelay(attempt, initialRetryDelay, maxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		attemptReq, err := cloneForAttempt(ctx, req)
		if err != nil {
			return nil, err
		}

		currentResp, lastErr = f.do(ctx, attemptReq)

		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				drainAndClose(currentResp)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			drainAndClose(currentResp)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			drainAndClose(currentResp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			drainAndClose(currentResp)
			continue

		case statusCode >= 400 && statusCode < 500:
			// 400 is a cacheable answer for some endpoints, so the response goes back with the error
			resLog.Debug("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	drainAndClose(currentResp)

	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// do sends one attempt, holding a per-host slot until the response headers arrive
func (f *Fetcher) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if f.limiter == nil {
		return f.client.Do(req)
	}
	release, err := f.limiter.Acquire(ctx, req.URL.Host)
	if err != nil {
		return nil, err
	}
	defer release()
	return f.client.Do(req)
}

// cloneForAttempt gives each attempt its own request and a fresh copy of the body
func cloneForAttempt(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("%w: request body for %s cannot be replayed", utils.ErrRequestCreation, req.URL)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
		}
		out.Body = body
	}
	return out, nil
}

// backoffDelay returns initial * 2^(attempt-1), capped at max, with +/- 10% jitter
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	return addJitter(delay)
}

// addJitter spreads d by +/- 10%
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	var jitter time.Duration
	if width := int64(d) / 5; width > 0 {
		jitter = time.Duration(rand.Int63n(width)) - d/10
	}
	if d+jitter < 0 {
		return 0
	}
	return d + jitter
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
