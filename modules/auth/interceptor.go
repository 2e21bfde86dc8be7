package auth

import (
	"context"
	"net/http"

	"github.com/guarzo/authsession/modules/interceptor"
)

// RetryReason is the retry budget charged for authentication retries.
const RetryReason = "auth"

// MaxAuthRetries bounds authentication-triggered retries per request.
const MaxAuthRetries = 1

type coordinatorInterceptor struct {
	c *Coordinator
}

// Interceptor exposes the coordinator as an interceptor: Adapt attaches a
// usable credential and Retry refreshes after an authentication failure.
func (c *Coordinator) Interceptor() interceptor.Interceptor {
	return &coordinatorInterceptor{c: c}
}

func (i *coordinatorInterceptor) Adapt(ctx context.Context, req *http.Request, next func(*http.Request, error)) {
	i.c.Acquire(ctx, func(cred Credential, err error) {
		if err != nil {
			next(nil, err)
			return
		}
		i.c.authenticator.Apply(cred, req)
		next(req, nil)
	})
}

func (i *coordinatorInterceptor) Retry(ctx context.Context, attempt *interceptor.Attempt, decide func(interceptor.RetryDecision)) {
	if attempt.Response == nil || !i.c.authenticator.DidFail(attempt.Request, attempt.Response, attempt.Err) {
		decide(interceptor.DoNotRetry())
		return
	}
	if attempt.RetryCount(RetryReason) >= MaxAuthRetries {
		i.c.logger.Debug(ctx, "authentication retry budget spent", "status", attempt.StatusCode())
		decide(interceptor.DoNotRetry())
		return
	}

	i.c.Reauthenticate(ctx, attempt.Request, func(_ Credential, err error) {
		if err != nil {
			decide(interceptor.DoNotRetryWithError(err))
			return
		}
		decide(interceptor.RetryNow().WithReason(RetryReason))
	})
}
