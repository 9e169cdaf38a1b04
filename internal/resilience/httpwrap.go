package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPClient sends requests through a circuit breaker, retrying transport errors and 5xx
// responses with exponential backoff. 4xx responses are returned to the caller untouched.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker // nil means a breaker that never opens
	Target      string
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64       // backoff randomization factor, 0.2 means ±20%
	Timeout     time.Duration // per attempt
}

// Do sends req, replaying its body on each attempt. The response body stays readable
// after Do returns even when Timeout is set.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{Target: cl.Target, MinRequests: math.MaxInt32})
	}
	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}
	delays := cl.backoff()
	attempts := max(cl.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if !breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.attempt(ctx, req, body)
		breaker.Report(ctx, err == nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt >= attempts || ctx.Err() != nil {
			return nil, lastErr
		}
		timer := time.NewTimer(delays.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt sends one copy of req. A 5xx response is drained, closed and turned into a StatusError.
func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if cl.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cl.Timeout)
	}
	out := req.Clone(ctx)
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		out.ContentLength = int64(len(body))
	}
	resp, err := cl.Client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) backoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cl.BaseBackoff,
		RandomizationFactor: cl.Jitter,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.Reset()
	return b
}

// drainBody reads the request body once so every attempt can resend it.
func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("resilience: read request body: %w", err)
	}
	return body, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// StatusError reports a 5xx response that exhausted the retry budget.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "resilience: upstream responded " + e.Status
}

// IsUnavailable reports whether err means the dependency could not be reached in time.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	var netErr net.Error
	return errors.Is(err, ErrOpenCircuit) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &statusErr) ||
		errors.As(err, &netErr)
}
