package rp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy controls transport-level retries. Only requests that fail
// before a response arrives (dial errors, resets) are retried; any HTTP
// response, including 5xx, is handed back to the caller unchanged.
type RetryPolicy struct {
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
}

func (p RetryPolicy) wrap(base *http.Client, logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = p.MaxRetries
	if p.WaitMin > 0 {
		rc.RetryWaitMin = p.WaitMin
	}
	if p.WaitMax > 0 {
		rc.RetryWaitMax = p.WaitMax
	}
	rc.Logger = logger
	rc.CheckRetry = retryConnectionErrors
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return rc.StandardClient()
}

func retryConnectionErrors(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}
