package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/common"
)

// Runner executes the external tools the installation steps call. Production
// shells out, test mode swallows everything.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, arg ...string) ([]byte, error)
}

// CommandError reports a tool that started but exited non-zero. The stderr
// tail rides along for diagnostics.
type CommandError struct {
	Cmdline  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%q failed with exit code %d", e.Cmdline, e.ExitCode)
	}
	return fmt.Sprintf("%q failed with exit code %d: %s", e.Cmdline, e.ExitCode, e.Stderr)
}

// HostRunner runs tools on the live system.
type HostRunner struct {
	Log *logrus.Entry
}

func (r *HostRunner) Run(ctx context.Context, stdin io.Reader, name string, arg ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Log != nil {
		log := r.Log
		// correlate the tool invocation with the wire command that caused it
		if op := common.OperationID(ctx); op != "" {
			log = log.WithField("op", op)
		}
		log.Debugf("running %s", cmdline(name, arg))
	}

	err := cmd.Run()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return stdout.Bytes(), &CommandError{
				Cmdline:  cmdline(name, arg),
				ExitCode: exitError.ExitCode(),
				Stderr:   stderrTail(&stderr),
			}
		}
		// the tool never ran, e.g. binary missing or context canceled
		return stdout.Bytes(), fmt.Errorf("starting %q: %w", cmdline(name, arg), err)
	}
	return stdout.Bytes(), nil
}

// DryRunner logs every command line and reports success without running
// anything. Test mode installs it so the session can be driven end to end
// on machines that must stay untouched.
type DryRunner struct {
	Log *logrus.Entry

	// Commands collects every rendered command line in call order.
	Commands []string
}

func (r *DryRunner) Run(ctx context.Context, stdin io.Reader, name string, arg ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := cmdline(name, arg)
	r.Commands = append(r.Commands, line)
	if r.Log != nil {
		r.Log.Infof("dry-run: %s", line)
	}
	if stdin != nil {
		// drain so callers streaming a script behave the same as live
		_, _ = io.Copy(io.Discard, stdin)
	}
	return nil, nil
}

func cmdline(name string, arg []string) string {
	return strings.Join(append([]string{name}, arg...), " ")
}

func stderrTail(buf *bytes.Buffer) string {
	const limit = 4096
	s := strings.TrimSpace(buf.String())
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
