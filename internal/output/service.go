// Package output tails a job's live output through the scheduler's
// event-watch feed, as a bounded on-demand read or an unbounded stream.
package output

import (
	"context"
	"time"

	"flux-gateway/internal/flux"
	"flux-gateway/internal/identity"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// outputChannel is the event-watch path carrying a job's output events.
const outputChannel = "guest.output"

type watcher interface {
	EventWatch(ctx context.Context, jobID, path string, cred *flux.Credential) (<-chan flux.Event, error)
}

// Service reads job output. In impersonated mode the read-only watch
// command runs under the job owner's identity, using the same demotion
// mechanism as submission.
type Service struct {
	logger      *zap.Logger
	tracer      trace.Tracer
	watcher     watcher
	resolver    identity.Resolver
	impersonate bool
}

func NewService(logger *zap.Logger, watcher watcher, resolver identity.Resolver, impersonate bool) *Service {
	return &Service{
		logger:      logger,
		tracer:      otel.Tracer("output/service"),
		watcher:     watcher,
		resolver:    resolver,
		impersonate: impersonate,
	}
}

func (s *Service) credential(ctx context.Context, owner string) (*flux.Credential, error) {
	if !s.impersonate || owner == "" {
		return nil, nil
	}
	account, err := s.resolver.Lookup(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &flux.Credential{UID: account.UID, GID: account.GID}, nil
}

// Read accumulates output lines until the feed ends or, when delay is
// positive, until that much time has elapsed. A feed that cannot be opened
// yet returns an empty result: the output file handle frequently is not
// ready right after submission, and that race is expected.
func (s *Service) Read(ctx context.Context, jobID, owner string, delay time.Duration) ([]string, error) {
	traceCtx, span := s.tracer.Start(ctx, "Read")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	cred, err := s.credential(traceCtx, owner)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(traceCtx)
	defer cancel()

	events, err := s.watcher.EventWatch(watchCtx, jobID, outputChannel, cred)
	if err != nil {
		logger.Debug("output feed not available", zap.String("job_id", jobID), zap.Error(err))
		return nil, nil
	}

	var timeout <-chan time.Time
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		timeout = timer.C
	}

	var lines []string
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return lines, nil
			}
			if ev.Context.Data != "" {
				lines = append(lines, ev.Context.Data)
			}
		case <-timeout:
			return lines, nil
		case <-traceCtx.Done():
			return lines, nil
		}
	}
}

// Stream yields output lines as they arrive until the feed closes or the
// consumer cancels ctx. Cancellation stops the underlying watch promptly;
// it never affects the job itself.
func (s *Service) Stream(ctx context.Context, jobID, owner string) (<-chan string, error) {
	traceCtx, span := s.tracer.Start(ctx, "Stream")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	cred, err := s.credential(traceCtx, owner)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	events, err := s.watcher.EventWatch(ctx, jobID, outputChannel, cred)
	if err != nil {
		logger.Debug("output feed not available", zap.String("job_id", jobID), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for ev := range events {
			if ev.Context.Data == "" {
				continue
			}
			select {
			case lines <- ev.Context.Data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines, nil
}
