package flux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"flux-gateway/internal"
)

// Command describes one scheduler CLI invocation.
type Command struct {
	Args  []string
	Stdin []byte
	Env   []string

	// Credential, when set, demotes the child process to the given uid/gid
	// before exec. The demotion never happens in the serving process itself.
	Credential *Credential
}

// Runner executes scheduler CLI commands. The seam exists so unit tests can
// substitute a fake without spawning processes.
type Runner interface {
	// Output runs the command to completion and returns its stdout.
	Output(ctx context.Context, cmd Command) ([]byte, error)
	// Stream starts the command and returns its stdout as a stream. Closing
	// the returned reader kills the child and reaps it.
	Stream(ctx context.Context, cmd Command) (io.ReadCloser, error)
}

type execRunner struct{}

// NewExecRunner returns the os/exec backed Runner used in production.
func NewExecRunner() Runner {
	return execRunner{}
}

// newCmd builds the exec.Cmd for a Command. When a credential is present the
// kernel applies gid before uid atomically at fork/exec, so the child can
// never end up with the target uid but the gateway's gid.
func newCmd(ctx context.Context, cmd Command) *exec.Cmd {
	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	if cmd.Credential != nil {
		c.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid:    cmd.Credential.UID,
				Gid:    cmd.Credential.GID,
				Groups: []uint32{cmd.Credential.GID},
			},
		}
	}
	return c
}

func (execRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	c := newCmd(ctx, cmd)
	var stderr bytes.Buffer
	c.Stderr = &stderr

	out, err := c.Output()
	if err != nil {
		return out, wrapExecError(err, cmd.Args[0], stderr.String())
	}
	return out, nil
}

func (execRunner) Stream(ctx context.Context, cmd Command) (io.ReadCloser, error) {
	c := newCmd(ctx, cmd)
	c.Stderr = io.Discard

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, wrapExecError(err, cmd.Args[0], "")
	}
	return &streamCloser{ReadCloser: stdout, cmd: c}, nil
}

type streamCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *streamCloser) Close() error {
	err := s.ReadCloser.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return err
}

func wrapExecError(err error, name, stderr string) error {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
		return fmt.Errorf("%w: spawning %s: %v", internal.ErrPrivilege, name, err)
	}
	detail := strings.TrimSpace(stderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && detail == "" {
		detail = strings.TrimSpace(string(exitErr.Stderr))
	}
	// flux-jobs reports a missing id as "Unknown job" on stderr. Classify it
	// here so callers match the sentinel instead of the message text.
	if strings.Contains(strings.ToLower(detail), "unknown job") {
		return fmt.Errorf("%w: %s: %s", internal.ErrJobNotFound, name, detail)
	}
	if detail != "" {
		return fmt.Errorf("%s: %s", name, detail)
	}
	return fmt.Errorf("%s: %w", name, err)
}
