package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type User struct {
	ID             uuid.UUID
	UserName       string
	HashedPassword string
	IsActive       pgtype.Bool
	IsSuperuser    pgtype.Bool
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

const create = `-- name: Create :one
INSERT INTO users (user_name, hashed_password, is_superuser)
VALUES ($1, $2, $3)
RETURNING id, user_name, hashed_password, is_active, is_superuser, created_at, updated_at
`

type CreateParams struct {
	UserName       string
	HashedPassword string
	IsSuperuser    pgtype.Bool
}

func (q *Queries) Create(ctx context.Context, arg CreateParams) (User, error) {
	row := q.db.QueryRow(ctx, create, arg.UserName, arg.HashedPassword, arg.IsSuperuser)
	var i User
	err := row.Scan(
		&i.ID,
		&i.UserName,
		&i.HashedPassword,
		&i.IsActive,
		&i.IsSuperuser,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getByUserName = `-- name: GetByUserName :one
SELECT id, user_name, hashed_password, is_active, is_superuser, created_at, updated_at
FROM users
WHERE user_name = $1
`

func (q *Queries) GetByUserName(ctx context.Context, userName string) (User, error) {
	row := q.db.QueryRow(ctx, getByUserName, userName)
	var i User
	err := row.Scan(
		&i.ID,
		&i.UserName,
		&i.HashedPassword,
		&i.IsActive,
		&i.IsSuperuser,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const existsByUserName = `-- name: ExistsByUserName :one
SELECT EXISTS (SELECT 1 FROM users WHERE user_name = $1)
`

func (q *Queries) ExistsByUserName(ctx context.Context, userName string) (bool, error) {
	row := q.db.QueryRow(ctx, existsByUserName, userName)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const setActive = `-- name: SetActive :one
UPDATE users
SET is_active = $2, updated_at = now()
WHERE user_name = $1
RETURNING id, user_name, hashed_password, is_active, is_superuser, created_at, updated_at
`

type SetActiveParams struct {
	UserName string
	IsActive pgtype.Bool
}

func (q *Queries) SetActive(ctx context.Context, arg SetActiveParams) (User, error) {
	row := q.db.QueryRow(ctx, setActive, arg.UserName, arg.IsActive)
	var i User
	err := row.Scan(
		&i.ID,
		&i.UserName,
		&i.HashedPassword,
		&i.IsActive,
		&i.IsSuperuser,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
