// Package launcher is the alternate submission path for whitelisted
// workflow launchers. They spawn as gateway subprocesses instead of going
// through the scheduler; the launcher itself then submits the real jobs.
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"sort"

	"flux-gateway/internal/job"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Service struct {
	logger *zap.Logger
	tracer trace.Tracer
	known  []string
}

func NewService(logger *zap.Logger, known []string) *Service {
	return &Service{
		logger: logger,
		tracer: otel.Tracer("launcher/service"),
		known:  known,
	}
}

// Launch spawns the descriptor's command directly, detached from the
// request. Mirroring the scheduler-facing cancel path, the outcome is
// always reported as a user-facing message.
func (s *Service) Launch(ctx context.Context, desc job.Descriptor) string {
	traceCtx, span := s.tracer.Start(ctx, "Launch")
	defer span.End()
	logger := logutil.WithContext(traceCtx, s.logger)

	if !slices.Contains(s.known, desc.Argv[0]) {
		logger.Warn("rejected unknown launcher", zap.String("launcher", desc.Argv[0]))
		return fmt.Sprintf("%s is not a known launcher.", desc.Argv[0])
	}

	// Deliberately not CommandContext: the launcher outlives the request.
	cmd := exec.Command(desc.Argv[0], desc.Argv[1:]...)
	cmd.Dir = desc.Workdir
	cmd.Env = environList(desc.Environment)

	if err := cmd.Start(); err != nil {
		logger.Error("failed to spawn launcher", zap.String("launcher", desc.Argv[0]), zap.Error(err))
		span.RecordError(err)
		return err.Error()
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Warn("launcher exited with error", zap.String("launcher", desc.Argv[0]), zap.Error(err))
		}
	}()

	logger.Info("spawned launcher", zap.String("launcher", desc.Argv[0]), zap.Int("pid", cmd.Process.Pid))
	return "Job submit, see jobs table for spawned jobs."
}

func environList(environment map[string]string) []string {
	entries := make([]string, 0, len(environment))
	for key, value := range environment {
		entries = append(entries, key+"="+value)
	}
	sort.Strings(entries)
	return entries
}
