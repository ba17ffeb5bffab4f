package user_test

import (
	"testing"

	"flux-gateway/internal/user"
	"flux-gateway/test/integration"
	"flux-gateway/test/setup"
	"flux-gateway/test/testdata"
	"flux-gateway/test/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	resourceManager, _, err := integration.GetOrInitResource()
	if err != nil {
		t.Fatalf("failed to get resource manager: %v", err)
	}
	defer resourceManager.Cleanup()

	logger, err := setup.NewTestLogger()
	require.NoError(t, err)

	t.Run("accepts the stored password", func(t *testing.T) {
		db, rollback, err := resourceManager.SetupPostgres()
		require.NoError(t, err)
		defer rollback()

		password := testutil.RandomPassword()
		seeded := testdata.NewUserBuilder(t, db).Create(testdata.UserWithPassword(password))

		service := user.NewService(logger, db)
		found, err := service.Authenticate(t.Context(), seeded.UserName, password)
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, found.ID)
	})

	t.Run("rejects a wrong password", func(t *testing.T) {
		db, rollback, err := resourceManager.SetupPostgres()
		require.NoError(t, err)
		defer rollback()

		seeded := testdata.NewUserBuilder(t, db).Create()

		service := user.NewService(logger, db)
		_, err = service.Authenticate(t.Context(), seeded.UserName, "not-the-password")
		assert.Error(t, err)
	})

	t.Run("rejects an inactive account", func(t *testing.T) {
		db, rollback, err := resourceManager.SetupPostgres()
		require.NoError(t, err)
		defer rollback()

		password := testutil.RandomPassword()
		seeded := testdata.NewUserBuilder(t, db).Create(testdata.UserWithPassword(password))

		service := user.NewService(logger, db)
		_, err = service.SetActive(t.Context(), seeded.UserName, false)
		require.NoError(t, err)

		_, err = service.Authenticate(t.Context(), seeded.UserName, password)
		assert.Error(t, err)
	})

	t.Run("keeps the superuser flag", func(t *testing.T) {
		db, rollback, err := resourceManager.SetupPostgres()
		require.NoError(t, err)
		defer rollback()

		password := testutil.RandomPassword()
		seeded := testdata.NewUserBuilder(t, db).Create(
			testdata.UserWithPassword(password),
			testdata.UserAsSuperuser(),
		)

		service := user.NewService(logger, db)
		found, err := service.Authenticate(t.Context(), seeded.UserName, password)
		require.NoError(t, err)
		assert.True(t, found.IsSuperuser.Bool)
	})
}
