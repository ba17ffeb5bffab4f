package flux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"flux-gateway/internal"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client is the narrow scheduler interface the gateway consumes. It drives
// the flux CLI over subprocesses; the binary is the long-lived connection
// broker to the running instance, so the client itself is safe to share
// across concurrent requests. Constructed once at startup and injected.
type Client struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	fluxPath string
	runner   Runner
}

func NewClient(logger *zap.Logger, fluxPath string, runner Runner) *Client {
	if fluxPath == "" {
		fluxPath = "flux"
	}
	return &Client{
		logger:   logger,
		tracer:   otel.Tracer("flux/client"),
		fluxPath: fluxPath,
		runner:   runner,
	}
}

// Submit feeds a serialized jobspec to the scheduler's own submit tool on
// stdin and returns the assigned job id from stdout. A non-nil credential
// demotes the submit tool to that identity.
func (c *Client) Submit(ctx context.Context, jobspec []byte, cred *Credential) (string, error) {
	traceCtx, span := c.tracer.Start(ctx, "Submit")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{
		Args:       []string{c.fluxPath, "job", "submit", "-"},
		Stdin:      jobspec,
		Env:        os.Environ(),
		Credential: cred,
	}

	out, err := c.runner.Output(traceCtx, cmd)
	if err != nil {
		logger.Error("failed to submit jobspec", zap.Error(err))
		span.RecordError(err)
		return "", err
	}

	// Stdout is the sole source of the job id.
	jobID := strings.TrimSpace(string(out))
	if jobID == "" {
		err = fmt.Errorf("submit returned no job id")
		span.RecordError(err)
		return "", err
	}

	logger.Info("submitted job", zap.String("job_id", jobID))
	return jobID, nil
}

// Cancel requests cancellation of a job. Fire and forget: a nil error means
// the scheduler accepted the request, not that the job has stopped.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	traceCtx, span := c.tracer.Start(ctx, "Cancel")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{Args: []string{c.fluxPath, "job", "cancel", jobID}}
	if _, err := c.runner.Output(traceCtx, cmd); err != nil {
		logger.Warn("failed to cancel job", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return err
	}

	logger.Info("requested job cancellation", zap.String("job_id", jobID))
	return nil
}

// List returns every job known to the scheduler, in its native listing order.
func (c *Client) List(ctx context.Context) ([]JobRecord, error) {
	traceCtx, span := c.tracer.Start(ctx, "List")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{Args: []string{c.fluxPath, "jobs", "-a", "--json"}}
	out, err := c.runner.Output(traceCtx, cmd)
	if err != nil {
		logger.Error("failed to list jobs", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	var listing jobListing
	if err := json.Unmarshal(out, &listing); err != nil {
		logger.Error("failed to parse job listing", zap.Error(err))
		span.RecordError(err)
		return nil, fmt.Errorf("parse job listing: %w", err)
	}
	return listing.Jobs, nil
}

// Get returns the full record for one job id, or internal.ErrJobNotFound.
func (c *Client) Get(ctx context.Context, jobID string) (JobRecord, error) {
	traceCtx, span := c.tracer.Start(ctx, "Get")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{Args: []string{c.fluxPath, "jobs", "--json", jobID}}
	out, err := c.runner.Output(traceCtx, cmd)
	if err != nil {
		if errors.Is(err, internal.ErrJobNotFound) {
			return JobRecord{}, err
		}
		logger.Error("failed to get job", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return JobRecord{}, err
	}

	var listing jobListing
	if err := json.Unmarshal(out, &listing); err != nil {
		span.RecordError(err)
		return JobRecord{}, fmt.Errorf("parse job record: %w", err)
	}
	if len(listing.Jobs) > 0 {
		return listing.Jobs[0], nil
	}

	// Older CLIs emit the record bare. That shape also decodes into
	// jobListing, just with no jobs, so try it before concluding not-found.
	var record JobRecord
	if jerr := json.Unmarshal(out, &record); jerr == nil && record.ID != 0 {
		return record, nil
	}
	return JobRecord{}, fmt.Errorf("%w: %s", internal.ErrJobNotFound, jobID)
}

// EventWatch opens a live feed of output events for a job. The returned
// channel closes when the feed ends; cancelling ctx stops the watch and
// kills the underlying subprocess, leaking nothing. A non-nil credential
// runs the read-only watch command under that identity.
func (c *Client) EventWatch(ctx context.Context, jobID, path string, cred *Credential) (<-chan Event, error) {
	traceCtx, span := c.tracer.Start(ctx, "EventWatch")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{
		Args:       []string{c.fluxPath, "job", "eventlog", "--format=json", "--path=" + path, "--follow", jobID},
		Credential: cred,
	}

	stream, err := c.runner.Stream(traceCtx, cmd)
	if err != nil {
		logger.Debug("failed to open event watch", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer func() {
			if cerr := stream.Close(); cerr != nil {
				logger.Debug("failed to close event stream", zap.Error(cerr))
			}
		}()

		scanner := bufio.NewScanner(stream)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var ev Event
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-traceCtx.Done():
				return
			}
		}
		if serr := scanner.Err(); serr != nil {
			logger.Debug("event feed terminated", zap.String("job_id", jobID), zap.Error(serr))
		}
	}()

	return events, nil
}

// Nodes returns the names of the up nodes known to the scheduler.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	traceCtx, span := c.tracer.Start(ctx, "Nodes")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{Args: []string{c.fluxPath, "resource", "list", "-s", "up", "-no", "{nodelist}"}}
	out, err := c.runner.Output(traceCtx, cmd)
	if err != nil {
		logger.Error("failed to list nodes", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	return ExpandNodelist(strings.TrimSpace(string(out))), nil
}

// Shutdown asks the scheduler instance to stop. Fire and forget.
func (c *Client) Shutdown(ctx context.Context) error {
	traceCtx, span := c.tracer.Start(ctx, "Shutdown")
	defer span.End()
	logger := logutil.WithContext(traceCtx, c.logger)

	cmd := Command{Args: []string{c.fluxPath, "shutdown"}}
	if _, err := c.runner.Output(traceCtx, cmd); err != nil {
		logger.Error("failed to request shutdown", zap.Error(err))
		span.RecordError(err)
		return err
	}
	return nil
}

// ExpandNodelist expands an RFC1738-style compressed host list such as
// "node[0-2],login1" into individual host names. Malformed ranges are kept
// verbatim rather than dropped.
func ExpandNodelist(list string) []string {
	if list == "" {
		return nil
	}

	var hosts []string
	for _, part := range splitNodelist(list) {
		open := strings.Index(part, "[")
		end := strings.Index(part, "]")
		if open < 0 || end < open {
			hosts = append(hosts, part)
			continue
		}

		prefix := part[:open]
		expanded := false
		for _, r := range strings.Split(part[open+1:end], ",") {
			lo, hi, ok := parseRange(r)
			if !ok {
				continue
			}
			for i := lo; i <= hi; i++ {
				hosts = append(hosts, prefix+strconv.Itoa(i))
			}
			expanded = true
		}
		if !expanded {
			hosts = append(hosts, part)
		}
	}
	return hosts
}

// splitNodelist splits on commas that are not inside brackets.
func splitNodelist(list string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range list {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, list[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, list[start:])
	return parts
}

func parseRange(r string) (int, int, bool) {
	if lo, err := strconv.Atoi(r); err == nil {
		return lo, lo, true
	}
	bounds := strings.SplitN(r, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(bounds[0])
	if err != nil {
		return 0, 0, false
	}
	hi, err := strconv.Atoi(bounds[1])
	if err != nil || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}
