package job

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"flux-gateway/internal/jwt"

	handlerutil "github.com/NYCU-SDC/summer/pkg/handler"
	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"github.com/NYCU-SDC/summer/pkg/problem"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SubmitHandle is an opaque reference to an in-flight or completed
// submission. ID blocks until the scheduler has assigned a job id, bounded
// by ctx.
type SubmitHandle interface {
	ID(ctx context.Context) (string, error)
}

// SubmitBackend submits a built descriptor. The target identity, when
// relevant, is the descriptor's owner.
type SubmitBackend interface {
	Submit(ctx context.Context, desc Descriptor) (SubmitHandle, error)
}

type store interface {
	Get(ctx context.Context, jobID string) (Info, error)
	List(ctx context.Context) ([]string, error)
	ListDetailed(ctx context.Context, limit int, query string) (map[string]Info, error)
	Search(ctx context.Context, query string, start, length, draw int) (SearchResult, error)
	Cancel(ctx context.Context, jobID string) (string, int)
	Nodes(ctx context.Context) ([]string, error)
}

type launcherStore interface {
	Launch(ctx context.Context, desc Descriptor) string
}

type outputStore interface {
	Read(ctx context.Context, jobID, owner string, delay time.Duration) ([]string, error)
	Stream(ctx context.Context, jobID, owner string) (<-chan string, error)
}

type Handler struct {
	logger        *zap.Logger
	tracer        trace.Tracer
	validator     *validator.Validate
	problemWriter *problem.HttpWriter

	limits   Limits
	store    store
	backend  SubmitBackend
	launcher launcherStore
	output   outputStore
}

func NewHandler(logger *zap.Logger, validator *validator.Validate, problemWriter *problem.HttpWriter, limits Limits, store store, backend SubmitBackend, launcher launcherStore, output outputStore) *Handler {
	return &Handler{
		logger:        logger,
		tracer:        otel.Tracer("job/handler"),
		validator:     validator,
		problemWriter: problemWriter,
		limits:        limits,
		store:         store,
		backend:       backend,
		launcher:      launcher,
		output:        output,
	}
}

type submitResponse struct {
	Message string   `json:"Message"`
	Errors  []string `json:"Errors,omitempty"`
	Error   string   `json:"Error,omitempty"`
	ID      string   `json:"id,omitempty"`
}

func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "SubmitHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	// Strict decoding: unknown keys are rejected at the boundary instead of
	// silently forwarded as scheduler attributes.
	var req SubmitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		logger.Warn("failed to decode submit request", zap.Error(err))
		handlerutil.WriteJSONResponse(w, http.StatusBadRequest, submitResponse{
			Message: "A 'command' is minimally required.",
		})
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("submit request failed structural validation", zap.Error(err))
		handlerutil.WriteJSONResponse(w, http.StatusBadRequest, submitResponse{
			Message: "A 'command' is minimally required.",
		})
		return
	}

	if errs := Validate(req, h.limits); len(errs) > 0 {
		logger.Info("rejected submit request", zap.Strings("errors", errs))
		handlerutil.WriteJSONResponse(w, http.StatusBadRequest, submitResponse{
			Message: "Invalid submit request",
			Errors:  errs,
		})
		return
	}

	owner := callerName(traceCtx)
	desc, err := Build(req, owner)
	if err != nil {
		logger.Warn("failed to build descriptor", zap.Error(err))
		handlerutil.WriteJSONResponse(w, http.StatusBadRequest, submitResponse{
			Message: "There was an issue submitting that job.",
			Error:   err.Error(),
		})
		return
	}

	if req.IsLauncher {
		message := h.launcher.Launch(traceCtx, desc)
		handlerutil.WriteJSONResponse(w, http.StatusOK, submitResponse{Message: message, ID: "MANY"})
		return
	}

	handle, err := h.backend.Submit(traceCtx, desc)
	if err == nil {
		var jobID string
		jobID, err = handle.ID(traceCtx)
		if err == nil {
			handlerutil.WriteJSONResponse(w, http.StatusOK, submitResponse{Message: "Job submit.", ID: jobID})
			return
		}
	}

	logger.Error("failed to submit job", zap.Error(err))
	span.RecordError(err)
	handlerutil.WriteJSONResponse(w, http.StatusBadRequest, submitResponse{
		Message: "There was an issue submitting that job.",
		Error:   err.Error(),
	})
}

func (h *Handler) GetHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "GetHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	info, err := h.store.Get(traceCtx, r.PathValue("jobid"))
	if err != nil {
		logger.Debug("failed to get job", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}

	handlerutil.WriteJSONResponse(w, http.StatusOK, info)
}

func (h *Handler) ListHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "ListHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	query := r.URL.Query()
	if boolArg(query.Get("details")) {
		limit := intArg(query.Get("limit"))
		jobs, err := h.store.ListDetailed(traceCtx, limit, "")
		if err != nil {
			logger.Error("failed to list jobs", zap.Error(err))
			h.problemWriter.WriteError(traceCtx, w, err, logger)
			return
		}

		if boolArg(query.Get("listing")) {
			listing := make([]Info, 0, len(jobs))
			for _, info := range jobs {
				listing = append(listing, info)
			}
			handlerutil.WriteJSONResponse(w, http.StatusOK, listing)
			return
		}
		handlerutil.WriteJSONResponse(w, http.StatusOK, jobs)
		return
	}

	ids, err := h.store.List(traceCtx)
	if err != nil {
		logger.Error("failed to list jobs", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	handlerutil.WriteJSONResponse(w, http.StatusOK, map[string][]string{"jobs": ids})
}

func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "SearchHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	params := r.URL.Query()
	query := params.Get("search[value]")
	if query == "" {
		query = params.Get("search")
	}
	draw := intArg(params.Get("draw"))
	if draw == 0 {
		draw = 1
	}

	result, err := h.store.Search(traceCtx, query, intArg(params.Get("start")), intArg(params.Get("length")), draw)
	if err != nil {
		logger.Error("failed to search jobs", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}

	handlerutil.WriteJSONResponse(w, http.StatusOK, result)
}

type cancelResponse struct {
	Message string `json:"Message"`
	ID      string `json:"id"`
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "CancelHandler")
	defer span.End()

	jobID := r.PathValue("jobid")
	message, status := h.store.Cancel(traceCtx, jobID)
	handlerutil.WriteJSONResponse(w, status, cancelResponse{Message: message, ID: jobID})
}

type outputResponse struct {
	Output  []string `json:"Output,omitempty"`
	Message string   `json:"Message,omitempty"`
}

func (h *Handler) OutputHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "OutputHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	var delay time.Duration
	if seconds := intArg(r.URL.Query().Get("delay")); seconds > 0 {
		delay = time.Duration(seconds) * time.Second
	}

	lines, err := h.output.Read(traceCtx, r.PathValue("jobid"), callerName(traceCtx), delay)
	if err != nil {
		logger.Error("failed to read job output", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}

	if len(lines) > 0 {
		handlerutil.WriteJSONResponse(w, http.StatusOK, outputResponse{Output: lines})
		return
	}
	handlerutil.WriteJSONResponse(w, http.StatusOK, outputResponse{
		Message: "The output does not exist yet, or the jobid is incorrect.",
	})
}

func (h *Handler) OutputStreamHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "OutputStreamHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	// The watch follows the client's own context: a disconnect cancels the
	// underlying subscription without touching the job.
	lines, err := h.output.Stream(r.Context(), r.PathValue("jobid"), callerName(traceCtx))
	if err != nil {
		logger.Debug("failed to open output stream", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	for line := range lines {
		if _, err := w.Write([]byte(line)); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

type nodesResponse struct {
	Nodes []string `json:"nodes"`
}

func (h *Handler) NodesHandler(w http.ResponseWriter, r *http.Request) {
	traceCtx, span := h.tracer.Start(r.Context(), "NodesHandler")
	defer span.End()
	logger := logutil.WithContext(traceCtx, h.logger)

	nodes, err := h.store.Nodes(traceCtx)
	if err != nil {
		logger.Error("failed to list nodes", zap.Error(err))
		h.problemWriter.WriteError(traceCtx, w, err, logger)
		return
	}
	if nodes == nil {
		nodes = []string{}
	}
	handlerutil.WriteJSONResponse(w, http.StatusOK, nodesResponse{Nodes: nodes})
}

// callerName is the authenticated user, or empty when auth is disabled.
func callerName(ctx context.Context) string {
	user, err := jwt.GetUserFromContext(ctx)
	if err != nil {
		return ""
	}
	return user.Username
}

func boolArg(value string) bool {
	return value == "true" || value == "1"
}

func intArg(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
