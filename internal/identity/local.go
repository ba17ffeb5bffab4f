package identity

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"

	"flux-gateway/internal"

	"go.uber.org/zap"
)

// LocalResolver resolves accounts from the host's user database (passwd or
// whatever NSS is configured with). The lookup can block on NSS backends,
// so callers run it off the hot path.
type LocalResolver struct {
	logger *zap.Logger
}

func NewLocalResolver(logger *zap.Logger) *LocalResolver {
	return &LocalResolver{logger: logger}
}

func (r *LocalResolver) Lookup(_ context.Context, username string) (Account, error) {
	record, err := user.Lookup(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return Account{}, fmt.Errorf("%w: %s", internal.ErrUnknownUser, username)
		}
		r.logger.Error("account lookup failed", zap.String("user", username), zap.Error(err))
		return Account{}, fmt.Errorf("lookup %s: %w", username, err)
	}

	uid, err := strconv.ParseUint(record.Uid, 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse uid %q for %s: %w", record.Uid, username, err)
	}
	gid, err := strconv.ParseUint(record.Gid, 10, 32)
	if err != nil {
		return Account{}, fmt.Errorf("parse gid %q for %s: %w", record.Gid, username, err)
	}

	return Account{
		Name: record.Username,
		UID:  uint32(uid),
		GID:  uint32(gid),
		Home: record.HomeDir,
	}, nil
}
