package services

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ServiceIdentifier interface {
	ID() string
}

type requestIDKey struct{}

// ContextWithRequestID tags ctx so service logs can be joined with the
// access log of the request that caused them.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ServiceLogger is a zerolog logger tagged with the owning service's id.
type ServiceLogger struct {
	logger zerolog.Logger
}

func NewServiceLogger(svc ServiceIdentifier) *ServiceLogger {
	return &ServiceLogger{
		logger: log.With().Str("service", svc.ID()).Logger(),
	}
}

// Ctx adds the request id carried by ctx, if any.
func (l *ServiceLogger) Ctx(ctx context.Context) *ServiceLogger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return l
	}
	return &ServiceLogger{logger: l.logger.With().Str("requestId", id).Logger()}
}

func (l *ServiceLogger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *ServiceLogger) Error() *zerolog.Event { return l.logger.Error() }
func (l *ServiceLogger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *ServiceLogger) Debug() *zerolog.Event { return l.logger.Debug() }
