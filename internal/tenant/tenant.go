// Package tenant threads the acting company and user through operation calls
// as explicit context values. There is no ambient "current company" global;
// anything that needs the tenant takes it from the context it was handed.
package tenant

import (
	"context"

	"github.com/pkg/errors"
)

type contextKey string

const (
	companyKey contextKey = "company_id"
	actorKey   contextKey = "actor_id"
)

// ErrNoCompany is returned when a context carries no company
var ErrNoCompany = errors.New("no company in context")

// ErrNoActor is returned when a context carries no actor
var ErrNoActor = errors.New("no actor in context")

// WithCompany returns a context carrying the acting company
func WithCompany(ctx context.Context, companyID uint) context.Context {
	return context.WithValue(ctx, companyKey, companyID)
}

// CompanyFromContext extracts the acting company from the context
func CompanyFromContext(ctx context.Context) (uint, error) {
	id, ok := ctx.Value(companyKey).(uint)
	if !ok {
		return 0, ErrNoCompany
	}
	return id, nil
}

// WithActor returns a context carrying the acting user
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext extracts the acting user from the context
func ActorFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(actorKey).(string)
	if !ok || id == "" {
		return "", ErrNoActor
	}
	return id, nil
}
