package identity

import (
	"os/user"
	"strconv"
	"testing"

	"flux-gateway/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLookup(t *testing.T) {
	resolver := NewLocalResolver(zap.NewNop())

	t.Run("resolves an existing account", func(t *testing.T) {
		current, err := user.Current()
		require.NoError(t, err)

		account, err := resolver.Lookup(t.Context(), current.Username)
		require.NoError(t, err)

		assert.Equal(t, current.Username, account.Name)
		assert.Equal(t, current.HomeDir, account.Home)

		uid, err := strconv.ParseUint(current.Uid, 10, 32)
		require.NoError(t, err)
		assert.Equal(t, uint32(uid), account.UID)
	})

	t.Run("unknown users map to the sentinel", func(t *testing.T) {
		_, err := resolver.Lookup(t.Context(), "no-such-user-a8f2k")
		assert.ErrorIs(t, err, internal.ErrUnknownUser)
	})
}
