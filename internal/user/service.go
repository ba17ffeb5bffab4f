package user

import (
	"context"
	"fmt"

	"flux-gateway/internal"

	databaseutil "github.com/NYCU-SDC/summer/pkg/database"
	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	queries *Queries
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewService(logger *zap.Logger, db DBTX) *Service {
	return &Service{
		queries: New(db),
		logger:  logger,
		tracer:  otel.Tracer("user/service"),
	}
}

func (s *Service) Create(ctx context.Context, userName, password string, superuser bool) (User, error) {
	traceCtx, span := s.tracer.Start(ctx, "Create")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.queries.Create(traceCtx, CreateParams{
		UserName:       userName,
		HashedPassword: string(hashed),
		IsSuperuser:    pgtype.Bool{Bool: superuser, Valid: true},
	})
	if err != nil {
		err = databaseutil.WrapDBError(err, logger, "create user")
		span.RecordError(err)
		return User{}, err
	}
	return created, nil
}

func (s *Service) GetByUserName(ctx context.Context, userName string) (User, error) {
	traceCtx, span := s.tracer.Start(ctx, "GetByUserName")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	found, err := s.queries.GetByUserName(traceCtx, userName)
	if err != nil {
		err = databaseutil.WrapDBErrorWithKeyValue(err, "users", "user_name", userName, logger, "get user by user name")
		span.RecordError(err)
		return User{}, err
	}

	return found, nil
}

func (s *Service) ExistsByUserName(ctx context.Context, userName string) (bool, error) {
	traceCtx, span := s.tracer.Start(ctx, "ExistsByUserName")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	exists, err := s.queries.ExistsByUserName(traceCtx, userName)
	if err != nil {
		err = databaseutil.WrapDBError(err, logger, "check user exists")
		span.RecordError(err)
		return false, err
	}

	return exists, nil
}

// Authenticate verifies the password against the stored bcrypt hash. Inactive
// accounts are refused even with a correct password.
func (s *Service) Authenticate(ctx context.Context, userName, password string) (User, error) {
	traceCtx, span := s.tracer.Start(ctx, "Authenticate")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	found, err := s.GetByUserName(traceCtx, userName)
	if err != nil {
		span.RecordError(err)
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(found.HashedPassword), []byte(password)); err != nil {
		logger.Warn("Password mismatch", zap.String("user_name", userName))
		span.RecordError(err)
		return User{}, fmt.Errorf("%w: incorrect password", internal.ErrUnknownUser)
	}

	if !found.IsActive.Bool {
		err = fmt.Errorf("%w: %s", internal.ErrUserInactive, userName)
		span.RecordError(err)
		return User{}, err
	}

	return found, nil
}

func (s *Service) SetActive(ctx context.Context, userName string, active bool) (User, error) {
	traceCtx, span := s.tracer.Start(ctx, "SetActive")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	updated, err := s.queries.SetActive(traceCtx, SetActiveParams{
		UserName: userName,
		IsActive: pgtype.Bool{Bool: active, Valid: true},
	})
	if err != nil {
		err = databaseutil.WrapDBErrorWithKeyValue(err, "users", "user_name", userName, logger, "set user active")
		span.RecordError(err)
		return User{}, err
	}

	return updated, nil
}
