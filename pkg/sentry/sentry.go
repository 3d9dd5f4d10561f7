package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

type InfoData map[string]interface{}

// Reporter sends messages to Sentry. A reporter built without a DSN drops everything.
type Reporter struct {
	hub *sentry.Hub
}

func New(dsn string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return nil, err
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *Reporter) Enabled() bool {
	return r.hub != nil
}

func (r *Reporter) Send(title string, data InfoData, level sentry.Level) {
	if r.hub == nil {
		return
	}
	localHub := r.hub.Clone()
	localHub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetExtras(data)
	})
	localHub.CaptureMessage(title)
}

// Flush waits until buffered events are sent or the timeout passes.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r.hub == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
