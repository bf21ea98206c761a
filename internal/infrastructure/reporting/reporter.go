package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards failures worth a human look to an external tracker.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	CapturePanic(recovered any, tags map[string]string)
	Flush(timeout time.Duration) bool
}

type Config struct {
	Dsn         string
	Environment string
	Debug       bool
	Release     string
}

// New returns a Sentry-backed reporter, or a no-op one when no DSN is set.
func New(cfg Config) (Reporter, error) {
	if cfg.Dsn == "" {
		return Nop{}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.Dsn,
		Environment:      cfg.Environment,
		Debug:            cfg.Debug,
		Release:          cfg.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return &sentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

type sentryReporter struct {
	hub *sentry.Hub
}

func (r *sentryReporter) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

func (r *sentryReporter) CapturePanic(recovered any, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
		r.hub.Recover(recovered)
	})
}

func (r *sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type Nop struct{}

func (Nop) CaptureError(error, map[string]string) {}

func (Nop) CapturePanic(any, map[string]string) {}

func (Nop) Flush(time.Duration) bool { return true }
