package testdata

import (
	"context"
	"testing"

	"flux-gateway/internal/user"
	"flux-gateway/test/testutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// UserFactoryParams defines the parameters for creating a user.
type UserFactoryParams struct {
	UserName  string
	Password  string
	Superuser bool
}

// UserOption defines a function type for modifying UserFactoryParams.
type UserOption func(*UserFactoryParams)

// UserWithName sets the user name.
func UserWithName(name string) UserOption {
	return func(p *UserFactoryParams) {
		p.UserName = name
	}
}

// UserWithPassword sets the plaintext password the hash is derived from.
func UserWithPassword(password string) UserOption {
	return func(p *UserFactoryParams) {
		p.Password = password
	}
}

// UserAsSuperuser marks the user as a superuser.
func UserAsSuperuser() UserOption {
	return func(p *UserFactoryParams) {
		p.Superuser = true
	}
}

type UserBuilder struct {
	t  *testing.T
	db DBTX
}

func NewUserBuilder(t *testing.T, db DBTX) *UserBuilder {
	return &UserBuilder{t: t, db: db}
}

func (b UserBuilder) Create(opts ...UserOption) user.User {
	params := UserFactoryParams{
		UserName: testutil.RandomUserName(),
		Password: testutil.RandomPassword(),
	}

	for _, opt := range opts {
		opt(&params)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.MinCost)
	require.NoError(b.t, err)

	q := user.New(b.db)
	created, err := q.Create(b.t.Context(), user.CreateParams{
		UserName:       params.UserName,
		HashedPassword: string(hashed),
		IsSuperuser:    pgtype.Bool{Bool: params.Superuser, Valid: true},
	})
	require.NoError(b.t, err, "failed to create user with params: %+v", params)

	return created
}
