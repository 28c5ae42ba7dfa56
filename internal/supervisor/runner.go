package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCritical marks a job outcome the supervisor could not classify, such as
// a job process that never started.
var ErrCritical = errors.New("critical job error")

// Runner executes one job attempt.
type Runner interface {
	Run(ctx context.Context) error
}

// FuncRunner runs a job in-process.
type FuncRunner func(ctx context.Context) error

// Run calls f.
func (f FuncRunner) Run(ctx context.Context) error {
	return f(ctx)
}

// ExecRunner runs a job as a child process. A non-zero exit is a job
// failure carrying the last line of stderr, where the child's CLI prints
// its error after any log output; failing to start is critical.
type ExecRunner struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Run starts the process and waits for it to exit.
func (r ExecRunner) Run(ctx context.Context) error {
	// #nosec G204 -- the command is this binary or one set in configuration.
	cmd := exec.CommandContext(ctx, r.Path, r.Args...)
	cmd.Env = r.Env
	cmd.Dir = r.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := lastLine(stderr.String())
		if msg == "" {
			msg = exitErr.Error()
		}
		return fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), msg)
	}
	return fmt.Errorf("%w: start %s: %v", ErrCritical, r.Path, err)
}

// lastLine returns the final non-blank line of out.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
