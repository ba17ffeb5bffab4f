// Package submit turns a built job descriptor into a scheduler submission.
// Two interchangeable backends exist: Direct submits on the gateway's own
// privileged connection (single-user mode), Impersonated re-executes the
// submission under the requesting user's OS identity (multi-user mode).
// Both hand back a Handle resolvable to the assigned job id.
package submit

import (
	"context"

	"flux-gateway/internal/flux"
	"flux-gateway/internal/job"
)

// Handle is an opaque reference to an in-flight or completed submission.
type Handle = job.SubmitHandle

// Backend submits a descriptor. The target identity, when relevant, is the
// descriptor's owner.
type Backend = job.SubmitBackend

// submitter is the slice of the scheduler client the backends consume.
type submitter interface {
	Submit(ctx context.Context, jobspec []byte, cred *flux.Credential) (string, error)
}

// future resolves once an asynchronous submission is acknowledged.
type future struct {
	done chan struct{}
	id   string
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(id string, err error) {
	f.id = id
	f.err = err
	close(f.done)
}

func (f *future) ID(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.id, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolved is a handle whose id was known synchronously at submit time.
type resolved struct {
	id string
}

func (r resolved) ID(context.Context) (string, error) {
	return r.id, nil
}
