package autoinst

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Backend is a spawned backend process with a client wired to its
// stdin/stdout pair. Its stderr is relayed into the log at warning level.
type Backend struct {
	Client *Client

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *io.PipeWriter
}

// SpawnBackend starts the backend binary in session mode.
func SpawnBackend(ctx context.Context, log *logrus.Entry, name string, arg ...string) (*Backend, error) {
	cmd := exec.CommandContext(ctx, name, arg...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("error setting up stdin for %s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("error setting up stdout for %s: %w", name, err)
	}
	stderr := log.WriterLevel(logrus.WarnLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("error starting %s: %w", name, err)
	}
	log.Debugf("spawned backend %s, pid %d", name, cmd.Process.Pid)

	return &Backend{
		Client: NewClient(stdout, stdin, log),
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
	}, nil
}

// Close ends the conversation and reaps the backend. Closing stdin is the
// protocol-level goodbye, the backend exits once its channel drains.
func (b *Backend) Close() error {
	_ = b.stdin.Close()
	err := b.cmd.Wait()
	_ = b.stderr.Close()
	if err != nil {
		return fmt.Errorf("backend exited uncleanly: %w", err)
	}
	return nil
}
