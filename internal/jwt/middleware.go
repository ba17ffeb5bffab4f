package jwt

import (
	"context"

	"flux-gateway/internal"

	handlerutil "github.com/NYCU-SDC/summer/pkg/handler"
)

// Verifier parses a bearer token, with or without the "Bearer " prefix, into
// the caller identity. The auth middleware consumes it.
type Verifier interface {
	Parse(ctx context.Context, tokenString string) (User, error)
}

func GetUserFromContext(ctx context.Context) (User, error) {
	user, ok := ctx.Value(internal.UserContextKey).(User)
	if !ok {
		return User{}, handlerutil.ErrInternalServer
	}
	return user, nil
}
