package tenant

import (
	"context"
	"errors"
)

// Keys for identity values carried in context
type contextKey string

const (
	agencyIDKey  contextKey = "agencyID"
	userIDKey    contextKey = "userID"
	roleKey      contextKey = "role"
	requestIDKey contextKey = "requestID"
)

// ErrAgencyIDNotFound is returned when no agency ID is found in context
var ErrAgencyIDNotFound = errors.New("agency ID not found in context")

// WithAgencyID adds a tenant (agency) ID to the context
func WithAgencyID(ctx context.Context, agencyID string) context.Context {
	return context.WithValue(ctx, agencyIDKey, agencyID)
}

// FromContext extracts the tenant (agency) ID from the context
func FromContext(ctx context.Context) (string, error) {
	agencyID, ok := ctx.Value(agencyIDKey).(string)
	if !ok || agencyID == "" {
		return "", ErrAgencyIDNotFound
	}
	return agencyID, nil
}

// MustFromContext extracts the tenant ID from the context or panics
func MustFromContext(ctx context.Context) string {
	agencyID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return agencyID
}

// ErrUserIDNotFound is returned when no user ID is found in context
var ErrUserIDNotFound = errors.New("user ID not found in context")

// WithUserID adds the acting user's ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the acting user's ID from the context
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok || userID == "" {
		return "", ErrUserIDNotFound
	}
	return userID, nil
}

// WithRole adds the acting user's role within the agency to the context
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// RoleFromContext extracts the acting user's role from the context.
// Returns an empty string when no role was attached.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
