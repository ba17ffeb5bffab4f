package system

import (
	"context"
	"net/http"

	"flux-gateway/internal/jwt"

	handlerutil "github.com/NYCU-SDC/summer/pkg/handler"
	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"github.com/NYCU-SDC/summer/pkg/problem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type scheduler interface {
	Stop(ctx context.Context) error
}

// Info describes the running instance so clients can discover how to
// authenticate before making their first real request.
type Info struct {
	Version     string
	AuthMode    string
	ServerMode  string
	RequireAuth bool
}

type Handler struct {
	logger        *zap.Logger
	tracer        trace.Tracer
	problemWriter *problem.HttpWriter

	info      Info
	scheduler scheduler
}

func NewHandler(logger *zap.Logger, problemWriter *problem.HttpWriter, info Info, scheduler scheduler) *Handler {
	return &Handler{
		logger:        logger,
		tracer:        otel.Tracer("system/handler"),
		problemWriter: problemWriter,
		info:          info,
		scheduler:     scheduler,
	}
}

type ServiceInfoResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	AuthMode    string `json:"authMode"`
	ServerMode  string `json:"serverMode"`
	RequireAuth bool   `json:"requireAuth"`
	Message     string `json:"message,omitempty"`
}

func (h *Handler) ServiceInfoHandler(w http.ResponseWriter, r *http.Request) {
	handlerutil.WriteJSONResponse(w, http.StatusOK, ServiceInfoResponse{
		Name:        "Flux Gateway",
		Version:     h.info.Version,
		AuthMode:    h.info.AuthMode,
		ServerMode:  h.info.ServerMode,
		RequireAuth: h.info.RequireAuth,
	})
}

// StopHandler shuts the scheduler instance down. Only a superuser may do
// this, the caller identity comes from the auth middleware.
func (h *Handler) StopHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "StopHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	caller, err := jwt.GetUserFromContext(traceCtx)
	if err != nil || !caller.Superuser {
		logger.Warn("Stop requested without superuser privilege")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.scheduler.Stop(traceCtx); err != nil {
		logger.Error("Failed to stop scheduler", zap.Error(err))
		span.RecordError(err)
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}

	handlerutil.WriteJSONResponse(w, http.StatusOK, ServiceInfoResponse{
		Name:        "Flux Gateway",
		Version:     h.info.Version,
		AuthMode:    h.info.AuthMode,
		ServerMode:  h.info.ServerMode,
		RequireAuth: h.info.RequireAuth,
		Message:     "Shutdown requested.",
	})
}
