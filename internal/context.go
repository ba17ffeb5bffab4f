package internal

type contextKey string

// UserContextKey carries the authenticated caller (a jwt.User) through the
// request context once an auth middleware has run.
const UserContextKey contextKey = "user"
