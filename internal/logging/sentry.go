package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry enables crash reporting when the user opted in (settings) or
// SPOOLTAG_SENTRY=1 is set; SPOOLTAG_SENTRY=0 always disables it. There is no
// built-in DSN: SPOOLTAG_SENTRY_DSN must be set.
func InitSentry(version string, crashReportingEnabled bool) bool {
	enabled := crashReportingEnabled
	switch os.Getenv("SPOOLTAG_SENTRY") {
	case "1":
		enabled = true
	case "0":
		enabled = false
	}
	if !enabled {
		return false
	}

	dsn := os.Getenv("SPOOLTAG_SENTRY_DSN")
	if dsn == "" {
		Debug(CatSystem, "Crash reporting requested but SPOOLTAG_SENTRY_DSN is unset", nil)
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "spooltag@" + version,
		Environment:      environment(),
		AttachStacktrace: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize Sentry: %v\n", err)
		return false
	}

	sentryEnabled = true
	return true
}

func environment() string {
	if env := os.Getenv("SPOOLTAG_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}

// SentryEnabled reports whether Sentry was initialized.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry waits for buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic reports a recovered panic.
func CapturePanic(panicValue interface{}, stack []byte, context string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		if err, ok := panicValue.(error); ok {
			sentry.CaptureException(err)
		} else {
			sentry.CaptureMessage(fmt.Sprintf("%v", panicValue))
		}
	})
	sentry.Flush(2 * time.Second)
}

// CaptureError reports a non-fatal error with extra context.
func CaptureError(err error, context string, data map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
