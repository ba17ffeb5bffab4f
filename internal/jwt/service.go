package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/golang-jwt/jwt/v5"
)

// User is the identity carried through the request context once the caller
// has been authenticated, regardless of which auth mode admitted them.
type User struct {
	Username  string
	Superuser bool
}

type Service struct {
	logger     *zap.Logger
	secret     string
	expiration time.Duration
	tracer     trace.Tracer
}

func NewService(logger *zap.Logger, secret string, expiration time.Duration) *Service {
	return &Service{
		logger:     logger,
		secret:     secret,
		expiration: expiration,
		tracer:     otel.Tracer("jwt/service"),
	}
}

type claims struct {
	Username  string
	Superuser bool
	jwt.RegisteredClaims
}

func (s Service) New(ctx context.Context, user User) (string, error) {
	traceCtx, span := s.tracer.Start(ctx, "New")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	jwtID := uuid.New()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username:  user.Username,
		Superuser: user.Superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Flux Gateway",
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiration)),
			NotBefore: jwt.NewNumericDate(time.Now()),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jwtID.String(),
		},
	})

	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		logger.Error("Failed to sign token", zap.Error(err), zap.String("username", user.Username))
		return "", err
	}

	logger.Debug("Generated new JWT token", zap.String("username", user.Username), zap.Bool("superuser", user.Superuser))

	return tokenString, nil
}

func (s Service) Parse(ctx context.Context, tokenString string) (User, error) {
	traceCtx, span := s.tracer.Start(ctx, "Parse")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			logger.Warn("Failed to parse JWT token due to malformed structure, this is not a JWT token", zap.String("error", err.Error()))
			return User{}, err
		case errors.Is(err, jwt.ErrSignatureInvalid):
			logger.Warn("Failed to parse JWT token due to invalid signature", zap.String("error", err.Error()))
			return User{}, err
		case errors.Is(err, jwt.ErrTokenExpired):
			expiredTime, getErr := token.Claims.GetExpirationTime()
			if getErr != nil {
				logger.Warn("Failed to parse JWT token due to expired timestamp", zap.String("error", err.Error()))
			} else {
				logger.Warn("Failed to parse JWT token due to expired timestamp", zap.String("error", err.Error()), zap.Time("expired_at", expiredTime.Time))
			}

			return User{}, err
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			notBeforeTime, getErr := token.Claims.GetNotBefore()
			if getErr != nil {
				logger.Warn("Failed to parse JWT token due to not valid yet timestamp", zap.String("error", err.Error()))
			} else {
				logger.Warn("Failed to parse JWT token due to not valid yet timestamp", zap.String("error", err.Error()), zap.Time("not_valid_yet", notBeforeTime.Time))
			}

			return User{}, err
		default:
			logger.Error("Failed to parse or validate JWT token", zap.Error(err))
			return User{}, err
		}
	}

	parsed, ok := token.Claims.(*claims)
	if !ok {
		logger.Error("Failed to extract claims from JWT token")
		return User{}, fmt.Errorf("failed to extract claims from JWT token")
	}

	logger.Debug("Successfully parsed JWT token", zap.String("username", parsed.Username), zap.Bool("superuser", parsed.Superuser))

	return User{Username: parsed.Username, Superuser: parsed.Superuser}, nil
}
