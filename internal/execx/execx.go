package execx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// Runner abstracts command execution so the firewall adapters can be
// unit-tested without touching the host packet filter (iptables/netsh).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stderr io.Writer
}

func NewOSRunner(stderr io.Writer) *OSRunner {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stderr: stderr}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := hideWindow(exec.CommandContext(ctx, name, args...))
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	log.Debug("exec", "cmd", name, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, firstArg(args), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, firstArg(args), err)
	}
	if stderr.Len() > 0 && r.Stderr != nil {
		_, _ = io.Copy(r.Stderr, &stderr)
	}
	return nil
}

// Output runs the command and returns combined stdout/stderr. On failure the
// error carries the command output, since netsh reports errors on stdout.
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := hideWindow(exec.CommandContext(ctx, name, args...))
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	log.Debug("exec", "cmd", name, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return msg, fmt.Errorf("%s %s: %w: %s", name, firstArg(args), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, firstArg(args), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
