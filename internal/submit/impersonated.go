package submit

import (
	"context"
	"errors"
	"fmt"

	"flux-gateway/internal"
	"flux-gateway/internal/flux"
	"flux-gateway/internal/identity"
	"flux-gateway/internal/job"

	logutil "github.com/NYCU-SDC/summer/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Impersonated re-executes the submission out of process as the descriptor's
// owner. Only the scheduler's own submit tool runs demoted; the user's
// command stays inside the scheduler's normal execution path.
type Impersonated struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	client   submitter
	resolver identity.Resolver
}

func NewImpersonated(logger *zap.Logger, client submitter, resolver identity.Resolver) *Impersonated {
	return &Impersonated{
		logger:   logger,
		tracer:   otel.Tracer("submit/impersonated"),
		client:   client,
		resolver: resolver,
	}
}

func (b *Impersonated) Submit(ctx context.Context, desc job.Descriptor) (Handle, error) {
	traceCtx, span := b.tracer.Start(ctx, "Submit")
	defer span.End()
	logger := logutil.WithContext(traceCtx, b.logger)

	if desc.Owner == "" {
		err := fmt.Errorf("%w: impersonated submit requires an owner", internal.ErrUnknownUser)
		span.RecordError(err)
		return nil, err
	}

	account, err := b.resolver.Lookup(traceCtx, desc.Owner)
	if err != nil {
		logger.Warn("failed to resolve account", zap.String("user", desc.Owner), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	// Security-relevant overwrite: the OS-resolved account always wins over
	// whatever the caller put in the environment.
	environment := make(map[string]string, len(desc.Environment)+3)
	for key, value := range desc.Environment {
		environment[key] = value
	}
	environment["HOME"] = account.Home
	environment["LOGNAME"] = account.Name
	environment["USER"] = account.Name
	desc.Environment = environment

	jobspec, err := desc.Jobspec()
	if err != nil {
		logger.Error("failed to serialize jobspec", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	cred := &flux.Credential{UID: account.UID, GID: account.GID}
	jobID, err := b.client.Submit(traceCtx, jobspec, cred)
	if err != nil {
		if errors.Is(err, internal.ErrPrivilege) {
			logger.Error("cannot demote to target user, the gateway must run as the flux instance owner",
				zap.String("user", account.Name), zap.Error(err))
			span.RecordError(err)
			return nil, fmt.Errorf("%w: are you running the gateway as the flux user?", internal.ErrPrivilege)
		}
		logger.Error("impersonated submit failed", zap.String("user", account.Name), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	logger.Info("submitted job as user", zap.String("user", account.Name), zap.String("job_id", jobID))
	return resolved{id: jobID}, nil
}
