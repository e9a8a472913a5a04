// Package alert reports failures that need a human: compensating steps that
// failed after their primary mutation committed, and gateway payments that
// could not be resolved automatically.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Alerter is satisfied by *Sentry.
type Alerter interface {
	Alert(ctx context.Context, msg string, err error, tags map[string]string)
}

// Sentry logs every alert and forwards it to sentry when a DSN is configured.
type Sentry struct {
	logger  *zap.Logger
	enabled bool
}

// NewSentry initialises the sentry client. An empty dsn keeps alerts in the
// log only.
func NewSentry(dsn, environment string, logger *zap.Logger) (*Sentry, error) {
	if dsn == "" {
		logger.Info("sentry disabled, alerts are logged only")
		return &Sentry{logger: logger}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &Sentry{logger: logger, enabled: true}, nil
}

func (s *Sentry) Alert(ctx context.Context, msg string, err error, tags map[string]string) {
	fields := make([]zap.Field, 0, len(tags)+1)
	fields = append(fields, zap.Error(err))
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Error(msg, fields...)

	if !s.enabled {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		hub.CaptureException(fmt.Errorf("%s: %w", msg, err))
	})
}

// Flush waits for buffered events before shutdown.
func (s *Sentry) Flush(timeout time.Duration) {
	if s.enabled {
		sentry.Flush(timeout)
	}
}
