package submit

import (
	"context"

	"flux-gateway/internal/job"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Direct submits on the gateway's existing privileged scheduler connection.
// Submit returns immediately; the handle resolves once the scheduler
// acknowledges. No retry: re-submitting could double-submit, so retry
// policy stays with the caller.
type Direct struct {
	logger *zap.Logger
	tracer trace.Tracer
	client submitter
}

func NewDirect(logger *zap.Logger, client submitter) *Direct {
	return &Direct{
		logger: logger,
		tracer: otel.Tracer("submit/direct"),
		client: client,
	}
}

func (b *Direct) Submit(ctx context.Context, desc job.Descriptor) (Handle, error) {
	traceCtx, span := b.tracer.Start(ctx, "Submit")
	defer span.End()
	logger := logutil.WithContext(traceCtx, b.logger)

	jobspec, err := desc.Jobspec()
	if err != nil {
		logger.Error("failed to serialize jobspec", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	handle := newFuture()
	go func() {
		// Detached from the request context: once the jobspec has left the
		// builder the submission should not be torn down by a caller
		// disconnect, only resolution waits on the caller.
		id, err := b.client.Submit(context.WithoutCancel(traceCtx), jobspec, nil)
		handle.resolve(id, err)
	}()

	return handle, nil
}
