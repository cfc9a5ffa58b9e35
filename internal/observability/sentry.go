package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry must run before a serverless invocation returns, otherwise
// queued events are lost when the function freezes.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
