package job

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"flux-gateway/internal/flux"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type schedulerClient interface {
	List(ctx context.Context) ([]flux.JobRecord, error)
	Get(ctx context.Context, jobID string) (flux.JobRecord, error)
	Cancel(ctx context.Context, jobID string) error
	Nodes(ctx context.Context) ([]string, error)
	Shutdown(ctx context.Context) error
}

// Service is the read path against the shared scheduler connection: job
// queries, listings, free-text search with pagination, cancellation and
// node listing. Job info is recomputed on every query, never cached.
type Service struct {
	logger *zap.Logger
	tracer trace.Tracer
	client schedulerClient
}

func NewService(logger *zap.Logger, client schedulerClient) *Service {
	return &Service{
		logger: logger,
		tracer: otel.Tracer("job/service"),
		client: client,
	}
}

// Get returns the projected view for one job id, or internal.ErrJobNotFound
// passed through from the client.
func (s *Service) Get(ctx context.Context, jobID string) (Info, error) {
	traceCtx, span := s.tracer.Start(ctx, "Get")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	record, err := s.client.Get(traceCtx, jobID)
	if err != nil {
		logger.Debug("failed to get job", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return Info{}, err
	}

	return toInfo(record), nil
}

// List returns just the job ids, in the scheduler's native listing order.
func (s *Service) List(ctx context.Context) ([]string, error) {
	traceCtx, span := s.tracer.Start(ctx, "List")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	records, err := s.client.List(traceCtx)
	if err != nil {
		logger.Error("failed to list jobs", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = strconv.FormatInt(record.ID, 10)
	}
	return ids, nil
}

// ListDetailed fetches the full view per listed id. A per-id failure (the
// job vanished between list and get) drops that entry rather than failing
// the listing; the job table mutates underneath us and that race is
// expected. A positive limit stops iteration once enough entries succeed;
// a non-empty query keeps only matching entries.
func (s *Service) ListDetailed(ctx context.Context, limit int, query string) (map[string]Info, error) {
	traceCtx, span := s.tracer.Start(ctx, "ListDetailed")
	defer span.End()

	ordered, err := s.detailed(traceCtx, limit, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	jobs := make(map[string]Info, len(ordered))
	for _, info := range ordered {
		jobs[info.ID] = info
	}
	return jobs, nil
}

// Search implements the datatables-style listing: recordsTotal is the
// unfiltered count, then the query filter and the start/length slice are
// applied in that order, and recordsFiltered reports what is left.
func (s *Service) Search(ctx context.Context, query string, start, length, draw int) (SearchResult, error) {
	traceCtx, span := s.tracer.Start(ctx, "Search")
	defer span.End()

	jobs, err := s.detailed(traceCtx, 0, "")
	if err != nil {
		span.RecordError(err)
		return SearchResult{}, err
	}
	total := len(jobs)

	if query != "" {
		match := matcher(query)
		var filtered []Info
		for _, info := range jobs {
			if match(info.searchBlob()) {
				filtered = append(filtered, info)
			}
		}
		jobs = filtered
	}

	if start > 0 && start < len(jobs) {
		jobs = jobs[start:]
	}
	if length > 0 && length < len(jobs) {
		jobs = jobs[:length]
	}

	if jobs == nil {
		jobs = []Info{}
	}
	return SearchResult{
		Data:            jobs,
		Draw:            draw,
		RecordsTotal:    total,
		RecordsFiltered: len(jobs),
	}, nil
}

// Cancel is fire and forget: a 200 means the scheduler accepted the
// request, not that the job has stopped. Returns the user-facing message
// and HTTP status code.
func (s *Service) Cancel(ctx context.Context, jobID string) (string, int) {
	traceCtx, span := s.tracer.Start(ctx, "Cancel")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	if err := s.client.Cancel(traceCtx, jobID); err != nil {
		logger.Warn("cancel request rejected", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return fmt.Sprintf("Job cannot be cancelled: %s.", err), http.StatusBadRequest
	}
	return "Job is requested to cancel.", http.StatusOK
}

// Nodes lists the up nodes known to the scheduler.
func (s *Service) Nodes(ctx context.Context) ([]string, error) {
	traceCtx, span := s.tracer.Start(ctx, "Nodes")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	nodes, err := s.client.Nodes(traceCtx)
	if err != nil {
		logger.Error("failed to list nodes", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}
	return nodes, nil
}

// Stop asks the scheduler instance to shut down.
func (s *Service) Stop(ctx context.Context) error {
	traceCtx, span := s.tracer.Start(ctx, "Stop")
	defer span.End()

	err := s.client.Shutdown(traceCtx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// detailed is the shared iteration behind ListDetailed and Search,
// preserving the scheduler's listing order.
func (s *Service) detailed(ctx context.Context, limit int, query string) ([]Info, error) {
	logger := logutil.WithContext(ctx, s.logger)

	records, err := s.client.List(ctx)
	if err != nil {
		logger.Error("failed to list jobs", zap.Error(err))
		return nil, err
	}

	match := matcher(query)

	var jobs []Info
	for _, record := range records {
		if limit > 0 && len(jobs) >= limit {
			break
		}

		jobID := strconv.FormatInt(record.ID, 10)
		full, err := s.client.Get(ctx, jobID)
		if err != nil {
			logger.Debug("dropping job that vanished during listing", zap.String("job_id", jobID), zap.Error(err))
			continue
		}

		info := toInfo(full)
		if query != "" && !match(info.searchBlob()) {
			continue
		}
		jobs = append(jobs, info)
	}
	return jobs, nil
}

// matcher compiles the free-text query as a regular expression, falling
// back to a plain substring match when it does not compile. Best effort.
func matcher(query string) func(string) bool {
	if query == "" {
		return func(string) bool { return true }
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return func(blob string) bool { return strings.Contains(blob, query) }
	}
	return func(blob string) bool { return re.MatchString(blob) }
}

func toInfo(record flux.JobRecord) Info {
	info := Info{
		ID:         strconv.FormatInt(record.ID, 10),
		Name:       record.Name,
		State:      flux.StateString(record.State),
		Username:   record.Username,
		NNodes:     record.NNodes,
		Result:     record.Result,
		ReturnCode: record.ReturnCode,
		Runtime:    record.Runtime,
		Priority:   record.Priority,
		WaitStatus: record.WaitStatus,
		Nodelist:   record.Nodelist,
		Exception:  record.Exception,
		TSubmit:    record.TSubmit,
	}

	// Backfill fields the scheduler only populates later in the lifecycle.
	info.Ranks = record.Ranks
	if record.Expiration > 0 {
		info.Expiration = strconv.FormatFloat(record.Expiration, 'f', -1, 64)
	}
	if record.Duration > 0 {
		info.Duration = strconv.FormatFloat(record.Duration, 'f', -1, 64)
	}
	return info
}
