package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flux-gateway/internal"
	"flux-gateway/internal/auth"
	"flux-gateway/internal/config"
	"flux-gateway/internal/cors"
	"flux-gateway/internal/flux"
	"flux-gateway/internal/identity"
	"flux-gateway/internal/job"
	"flux-gateway/internal/jwt"
	"flux-gateway/internal/launcher"
	"flux-gateway/internal/output"
	"flux-gateway/internal/submit"
	"flux-gateway/internal/system"
	"flux-gateway/internal/trace"
	"flux-gateway/internal/user"

	databaseutil "github.com/NYCU-SDC/summer/pkg/database"
	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"github.com/NYCU-SDC/summer/pkg/middleware"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.6.1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var AppName = "no-app-name"

var Version = "no-version"

var BuildTime = "no-build-time"

var CommitHash = "no-commit-hash"

func main() {
	AppName = os.Getenv("APP_NAME")
	if AppName == "" {
		AppName = "flux-gateway"
	}

	if BuildTime == "no-build-time" {
		now := time.Now()
		BuildTime = "not provided (now: " + now.Format(time.RFC3339) + ")"
	}

	appMetadata := []zap.Field{
		zap.String("app_name", AppName),
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit_hash", CommitHash),
	}

	cfg, cfgLog := config.Load()
	err := cfg.Validate()
	if err != nil {
		if errors.Is(err, config.ErrDatabaseRequired) {
			title := "Database URL is required"
			message := "Basic auth keeps its accounts in PostgreSQL. Set the DATABASE_URL environment variable or provide a config file with the database_url key."
			message = EarlyApplicationFailed(title, message)
			log.Fatal(message)
		} else {
			log.Fatalf("Failed to validate config: %v, exiting...", err)
		}
	}

	logger, err := initLogger(&cfg, appMetadata)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v, exiting...", err)
	}

	cfgLog.FlushToZap(logger)

	if cfg.Secret == config.DefaultSecret && !cfg.Debug {
		logger.Warn("Default secret detected in production environment, replace it with a secure random string")
		cfg.Secret = uuid.New().String()
	}

	logger.Info("Application initialization",
		zap.Bool("debug", cfg.Debug),
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("auth_mode", cfg.AuthMode),
		zap.String("server_mode", cfg.ServerMode))

	var userService *user.Service
	if cfg.DatabaseURL != "" {
		logger.Info("Starting database migration...")

		err = databaseutil.MigrationUp(cfg.MigrationSource, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to run database migration", zap.Error(err))
		}

		dbPool, err := initDatabasePool(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to initialize database pool", zap.Error(err))
		}
		defer dbPool.Close()

		userService = user.NewService(logger, dbPool)
	}

	shutdown, err := initOpenTelemetry(AppName, Version, BuildTime, CommitHash, cfg.OtelCollectorUrl)
	if err != nil {
		logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
	}

	validator := internal.NewValidator()
	problemWriter := internal.NewProblemWriter()

	// Scheduler connection
	fluxClient := flux.NewClient(logger, cfg.FluxPath, flux.NewExecRunner())

	var resolver identity.Resolver
	var checker *identity.LDAPResolver
	if cfg.LDAP.Enabled() {
		ldapResolver := identity.NewLDAPResolver(cfg.LDAP, logger)
		resolver = ldapResolver
		checker = ldapResolver
	} else {
		resolver = identity.NewLocalResolver(logger)
	}

	impersonate := cfg.RequireAuth && cfg.ServerMode == config.ServerModeMultiUser
	var backend submit.Backend
	if impersonate {
		backend = submit.NewImpersonated(logger, fluxClient, resolver)
	} else {
		backend = submit.NewDirect(logger, fluxClient)
	}

	// Service
	jwtService := jwt.NewService(logger, cfg.Secret, 15*time.Minute)
	jobService := job.NewService(logger, fluxClient)
	launcherService := launcher.NewService(logger, cfg.Launchers)
	outputService := output.NewService(logger, fluxClient, resolver, impersonate)

	// Auth Middleware
	authMode := cfg.AuthMode
	if !cfg.RequireAuth {
		authMode = auth.ModeNone
	}
	var users auth.UserStore
	if userService != nil {
		users = userService
	}
	var passwordChecker auth.PasswordChecker
	if checker != nil {
		passwordChecker = checker
	}
	authMiddleware := auth.NewMiddleware(logger, authMode, cfg.FluxUser, cfg.FluxToken, jwtService, users, passwordChecker)

	// Handler
	limits := job.Limits{Nodes: cfg.NodeCount, HasGPUs: cfg.HasGPUs}
	jobHandler := job.NewHandler(logger, validator, problemWriter, limits, jobService, backend, launcherService, outputService)
	authHandler := auth.NewHandler(logger, jwtService, authMiddleware)
	systemHandler := system.NewHandler(logger, problemWriter, system.Info{
		Version:     Version,
		AuthMode:    authMode,
		ServerMode:  cfg.ServerMode,
		RequireAuth: cfg.RequireAuth,
	}, jobService)

	// Basic Middleware
	traceMiddleware := trace.NewMiddleware(logger, cfg.Debug)
	recovered := middleware.NewSet(traceMiddleware.RecoverMiddleware)
	traced := recovered.Append(traceMiddleware.TraceMiddleWare)

	corsMiddleware := cors.NewMiddleware(logger, cfg.AllowOrigins)
	traced = traced.Append(corsMiddleware.HandlerFunc)

	authed := traced.Append(authMiddleware.HandlerFunc)

	// HTTP Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/service/info", traced.HandlerFunc(systemHandler.ServiceInfoHandler))
	mux.HandleFunc("GET /v1/token", traced.HandlerFunc(authHandler.TokenHandler))

	mux.HandleFunc("POST /v1/service/stop", authed.HandlerFunc(systemHandler.StopHandler))
	mux.HandleFunc("POST /v1/jobs/submit", authed.HandlerFunc(jobHandler.SubmitHandler))
	mux.HandleFunc("GET /v1/jobs", authed.HandlerFunc(jobHandler.ListHandler))
	mux.HandleFunc("GET /v1/jobs/search", authed.HandlerFunc(jobHandler.SearchHandler))
	mux.HandleFunc("GET /v1/jobs/{jobid}", authed.HandlerFunc(jobHandler.GetHandler))
	mux.HandleFunc("POST /v1/jobs/{jobid}/cancel", authed.HandlerFunc(jobHandler.CancelHandler))
	mux.HandleFunc("GET /v1/jobs/{jobid}/output", authed.HandlerFunc(jobHandler.OutputHandler))
	mux.HandleFunc("GET /v1/jobs/{jobid}/output/stream", authed.HandlerFunc(jobHandler.OutputStreamHandler))
	mux.HandleFunc("GET /v1/nodes", authed.HandlerFunc(jobHandler.NodesHandler))

	// handle interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting listening request", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Fail to start server with error", zap.Error(err))
		}
	}()

	// wait for context close
	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer otelCancel()
	if err := shutdown(otelCtx); err != nil {
		logger.Error("Forced to shutdown OpenTelemetry", zap.Error(err))
	}

	logger.Info("Successfully shutdown")
}

func initLogger(cfg *config.Config, appMetadata []zap.Field) (*zap.Logger, error) {
	var err error
	var logger *zap.Logger
	if cfg.Debug {
		logger, err = logutil.ZapDevelopmentConfig().Build()
		if err != nil {
			return nil, err
		}
		logger.Info("Running in debug mode", appMetadata...)
	} else {
		logger, err = logutil.ZapProductionConfig().Build()
		if err != nil {
			return nil, err
		}

		logger = logger.With(appMetadata...)
	}
	defer func() {
		err := logger.Sync()
		if err != nil {
			zap.S().Errorw("Failed to sync logger", zap.Error(err))
		}
	}()

	return logger, nil
}

func initDatabasePool(databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, err
	}
	return dbPool, nil
}

func initOpenTelemetry(appName, version, buildTime, commitHash, otelCollectorUrl string) (func(context.Context) error, error) {
	ctx := context.Background()

	serviceName := semconv.ServiceNameKey.String(appName)
	serviceVersion := semconv.ServiceVersionKey.String(version)
	serviceNamespace := semconv.ServiceNamespaceKey.String("hpc")
	serviceCommitHash := semconv.ServiceVersionKey.String(commitHash)

	res, err := resource.New(ctx,
		resource.WithAttributes(
			serviceName,
			serviceVersion,
			serviceNamespace,
			serviceCommitHash,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	options := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	if otelCollectorUrl != "" {
		conn, err := initGrpcConn(otelCollectorUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}

		traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
		options = append(options, sdktrace.WithSpanProcessor(bsp))
	}

	tracerProvider := sdktrace.NewTracerProvider(options...)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider.Shutdown, nil
}

func initGrpcConn(target string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	return conn, nil
}

func EarlyApplicationFailed(title, action string) string {
	result := `
-----------------------------------------
Application Failed to Start
-----------------------------------------

# What's wrong?
%s

# How to fix it?
%s

`

	result = fmt.Sprintf(result, title, action)
	return result
}
