// Package roles resolves the coarse authorization role of a user from the profile store.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
)

// ErrNoProfile means the user has no profile row, hence no role.
var ErrNoProfile = errors.New("roles: no role found in user_profiles")

// Source reads the stored role of a user.
type Source interface {
	RoleOf(ctx context.Context, userID string) (models.Role, error)
}

// Resolver performs bounded, single-attempt role lookups.
type Resolver struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(source Source, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:  source,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("github.com/hongminglow/savedu/internal/roles"),
	}
}

// Lookup returns the stored role, ErrNoProfile, or the underlying store error. The caller
// bounds it through ctx.
func (r *Resolver) Lookup(ctx context.Context, userID string) (models.Role, error) {
	ctx, span := r.tracer.Start(ctx, "roles.lookup", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	role, err := r.source.RoleOf(ctx, userID)
	switch {
	case err == nil && !role.Known():
		err = ErrNoProfile
	case errors.Is(err, storage.ErrNotFound):
		err = ErrNoProfile
	case err != nil && ctx.Err() != nil:
		err = fmt.Errorf("role lookup: %w", ctx.Err())
	case err != nil:
		err = fmt.Errorf("role lookup: %w", err)
	}

	r.metrics.RoleLookup(lookupOutcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.RoleUnknown, err
	}
	span.SetAttributes(attribute.String("user.role", string(role)))
	return role, nil
}

// Resolve runs one lookup bounded by timeout. Any failure yields RoleUnknown and a warning;
// there are no retries.
func (r *Resolver) Resolve(ctx context.Context, userID string, timeout time.Duration) models.Role {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		role models.Role
		err  error
	}
	done := make(chan result, 1)
	go func() {
		role, err := r.Lookup(ctx, userID)
		done <- result{role, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{models.RoleUnknown, fmt.Errorf("role lookup: %w", ctx.Err())}
	}
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return models.RoleUnknown
		}
		r.logger.Warn("role load skipped", "user_id", userID, "error", res.err)
		return models.RoleUnknown
	}
	return res.role
}

func lookupOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoProfile):
		return "no_profile"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
