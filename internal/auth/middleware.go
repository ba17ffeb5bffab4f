package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"flux-gateway/internal"
	"flux-gateway/internal/jwt"
	"flux-gateway/internal/user"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ModeNone  = "none"
	ModeBasic = "basic"
	ModeLDAP  = "ldap"
)

type UserStore interface {
	Authenticate(ctx context.Context, userName, password string) (user.User, error)
}

// PasswordChecker verifies a password against the directory, used in LDAP mode
// as the PAM-equivalent credential check.
type PasswordChecker interface {
	CheckPassword(ctx context.Context, username, password string) error
}

type Middleware struct {
	logger *zap.Logger
	tracer trace.Tracer

	mode      string
	fluxUser  string
	fluxToken string
	verifier  jwt.Verifier
	users     UserStore
	checker   PasswordChecker
}

func NewMiddleware(logger *zap.Logger, mode, fluxUser, fluxToken string, verifier jwt.Verifier, users UserStore, checker PasswordChecker) *Middleware {
	return &Middleware{
		logger:    logger,
		tracer:    otel.Tracer("middleware/auth"),
		mode:      mode,
		fluxUser:  fluxUser,
		fluxToken: fluxToken,
		verifier:  verifier,
		users:     users,
		checker:   checker,
	}
}

// HandlerFunc admits the request when the caller presents either a bearer
// token minted by the token endpoint or basic credentials valid for the
// configured mode, and stores the resolved identity in the request context.
func (m *Middleware) HandlerFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceCtx, span := m.tracer.Start(r.Context(), "AuthMiddleware")
		defer span.End()
		logger := logutil.WithContext(traceCtx, m.logger)

		if m.mode == ModeNone {
			if m.fluxUser != "" {
				r = r.WithContext(context.WithValue(traceCtx, internal.UserContextKey, jwt.User{Username: m.fluxUser, Superuser: true}))
			}
			next.ServeHTTP(w, r)
			return
		}

		if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
			caller, err := m.verifier.Parse(traceCtx, header)
			if err != nil {
				logger.Warn("Bearer token invalid", zap.Error(err))
				unauthorized(w)
				return
			}
			r = r.WithContext(context.WithValue(traceCtx, internal.UserContextKey, caller))
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			logger.Warn("Authorization header required")
			unauthorized(w)
			return
		}

		caller, err := m.Authenticate(traceCtx, username, password)
		if err != nil {
			logger.Warn("Failed to authenticate user", zap.String("username", username), zap.Error(err))
			unauthorized(w)
			return
		}

		logger.Debug("Authenticated user", zap.String("username", caller.Username), zap.Bool("superuser", caller.Superuser))
		r = r.WithContext(context.WithValue(traceCtx, internal.UserContextKey, caller))
		next.ServeHTTP(w, r)
	}
}

// Authenticate checks basic credentials for the configured mode and returns
// the resolved caller identity.
func (m *Middleware) Authenticate(ctx context.Context, username, password string) (jwt.User, error) {
	traceCtx, span := m.tracer.Start(ctx, "Authenticate")
	defer span.End()

	// The server credential pair is accepted in every mode so the instance
	// owner keeps access when the user database or directory is down.
	if m.fluxUser != "" && m.fluxToken != "" {
		userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(m.fluxUser))
		tokenMatch := subtle.ConstantTimeCompare([]byte(password), []byte(m.fluxToken))
		if userMatch&tokenMatch == 1 {
			return jwt.User{Username: username, Superuser: true}, nil
		}
	}

	switch m.mode {
	case ModeLDAP:
		if m.checker == nil {
			return jwt.User{}, internal.ErrUnknownUser
		}
		if err := m.checker.CheckPassword(traceCtx, username, password); err != nil {
			span.RecordError(err)
			return jwt.User{}, err
		}
		return jwt.User{Username: username}, nil
	case ModeBasic:
		if m.users == nil {
			return jwt.User{}, internal.ErrUnknownUser
		}
		account, err := m.users.Authenticate(traceCtx, username, password)
		if err != nil {
			span.RecordError(err)
			return jwt.User{}, err
		}
		return jwt.User{Username: account.UserName, Superuser: account.IsSuperuser.Bool}, nil
	default:
		return jwt.User{}, internal.ErrUnknownUser
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="flux-gateway"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
