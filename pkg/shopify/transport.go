package shopify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const errorBodyReadLimit int64 = 4096

// Observer receives transport events, typically the Prometheus transport metrics.
type Observer interface {
	IncRetry(reason string)
	ObserveResponse(method string, status int)
}

type nopObserver struct{}

func (nopObserver) IncRetry(string)             {}
func (nopObserver) ObserveResponse(string, int) {}

// RetryPolicy bounds the retrying transport. AttemptTimeout limits each
// attempt, body included, rather than the whole retry loop.
type RetryPolicy struct {
	MaxAttempts    int
	Base           time.Duration
	Cap            time.Duration
	AttemptTimeout time.Duration
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryTransport replays a request on 429/502/503/504 and on connection
// failures. Everything else is handed back to the caller untouched.
type retryTransport struct {
	next     http.RoundTripper
	policy   RetryPolicy
	logg     *logger.Logger
	observer Observer
}

func newRetryTransport(next http.RoundTripper, policy RetryPolicy, logg *logger.Logger, observer Observer) *retryTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Base <= 0 {
		policy.Base = time.Second
	}
	if policy.Cap <= 0 {
		policy.Cap = 32 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &retryTransport{next: next, policy: policy, logg: logg, observer: observer}
}

// backoff is exponential and capped, except that a server supplied wait hint
// replaces the next delay once.
func (t *retryTransport) backoff(hint *time.Duration) retry.Backoff {
	b := retry.NewExponential(t.policy.Base)
	b = retry.WithCappedDuration(t.policy.Cap, b)
	b = retry.WithMaxRetries(uint64(t.policy.MaxAttempts-1), b)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > 0 {
			next, *hint = *hint, 0
		}
		return next, false
	})
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt int
		hint    time.Duration
	)

	ctx := req.Context()
	err := retry.Do(ctx, t.backoff(&hint), func(ctx context.Context) error {
		attempt++
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return err
		}

		attemptCtx, cancel := t.attemptContext(ctx)
		res, err := t.next.RoundTrip(attemptReq.WithContext(attemptCtx))
		if err != nil {
			timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if timedOut {
				t.noteRetry(ctx, req, attempt, "timeout", err)
				return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeTransportTransient, err, "attempt timed out"))
			}
			t.noteRetry(ctx, req, attempt, "connection", err)
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeTransportTransient, err, "connection failure"))
		}
		// the attempt deadline stays armed until the caller closes the body
		res.Body = &cancelOnClose{ReadCloser: res.Body, cancel: cancel}

		t.observer.ObserveResponse(req.Method, res.StatusCode)
		if !isRetryableStatus(res.StatusCode) {
			resp = res
			return nil
		}

		body := readErrorBody(res)
		if res.StatusCode == http.StatusTooManyRequests {
			hint = retryAfter(res.Header.Get("Retry-After"))
		}
		remote := &RemoteError{Status: res.StatusCode, Body: body}
		t.noteRetry(ctx, req, attempt, strconv.Itoa(res.StatusCode), remote)
		return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeTransportTransient, remote, "transient upstream status"))
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeTransportTransient) {
			exhausted := pkgerrors.Wrap(pkgerrors.CodeTransportExhausted, err, fmt.Sprintf("%s %s failed after %d attempts", req.Method, req.URL.Path, attempt))
			return nil, exhausted.WithDetails(map[string]any{"attempts": attempt, "url": req.URL.String()})
		}
		return nil, err
	}
	return resp, nil
}

func (t *retryTransport) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.policy.AttemptTimeout > 0 {
		return context.WithTimeout(ctx, t.policy.AttemptTimeout)
	}
	return context.WithCancel(ctx)
}

func (t *retryTransport) noteRetry(ctx context.Context, req *http.Request, attempt int, reason string, cause error) {
	t.observer.IncRetry(reason)
	ctx = t.logg.WithFields(ctx, map[string]any{
		"method":       req.Method,
		"path":         req.URL.Path,
		"attempt":      attempt,
		"max_attempts": t.policy.MaxAttempts,
		"reason":       reason,
		"error":        cause.Error(),
	})
	t.logg.Warn(ctx, "shopify request failed transiently")
}

// rewind returns a request whose body can be sent again. The first attempt
// reuses the caller's request as is.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

// cancelOnClose releases the attempt context once the body is done with.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// retryAfter parses the Retry-After header as (possibly fractional) seconds.
func retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func readErrorBody(res *http.Response) string {
	defer func() { _ = res.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyReadLimit))
	_, _ = io.Copy(io.Discard, res.Body)
	return strings.TrimSpace(string(data))
}

// throttleTransport spaces out mutating calls to stay inside the platform's
// request budget. Reads pass straight through.
type throttleTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newThrottleTransport(next http.RoundTripper, spacing time.Duration) http.RoundTripper {
	if spacing <= 0 {
		return next
	}
	return &throttleTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (t *throttleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isMutation(req.Method) {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return t.next.RoundTrip(req)
}
