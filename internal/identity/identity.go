// Package identity resolves the OS account record of a gateway user, for
// the impersonation path and for the security-relevant environment overlay.
package identity

import (
	"context"
)

// Account is a resolved OS account record.
type Account struct {
	Name string
	UID  uint32
	GID  uint32
	Home string
}

// Resolver looks up an account record by username. An unknown user is a
// fatal error for the request; there is no fallback identity.
type Resolver interface {
	Lookup(ctx context.Context, username string) (Account, error)
}
