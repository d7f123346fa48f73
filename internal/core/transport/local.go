package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
	"github.com/jaterm/jaterm/internal/core/helper"
)

// ErrHelperNotInstalled is returned by Exec when the helper file is missing.
var ErrHelperNotInstalled = errors.New("helper not installed")

// Local detects, installs and runs the helper on this machine.
type Local struct {
	desc   helper.Descriptor
	home   func() (string, error)
	logger *slog.Logger
}

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithHomeDir overrides how the home directory is found.
func WithHomeDir(home func() (string, error)) LocalOption {
	return func(l *Local) { l.home = home }
}

// WithLocalLogger sets the logger.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates the local primitive for desc.
func NewLocal(desc helper.Descriptor, opts ...LocalOption) *Local {
	l := &Local{
		desc:   desc,
		home:   os.UserHomeDir,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns where the helper lives on this machine.
func (l *Local) Path() (string, error) {
	home, err := l.home()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return l.desc.LocalInstallPath(home), nil
}

// Probe runs the helper's health check. A missing file is ProbeUnreachable.
func (l *Local) Probe(ctx context.Context) (bootstrap.ProbeResult, string, error) {
	p, err := l.Path()
	if err != nil {
		return bootstrap.ProbeResult{}, "", err
	}
	return l.probe(ctx, p), p, nil
}

func (l *Local) probe(ctx context.Context, p string) bootstrap.ProbeResult {
	if _, err := os.Stat(p); err != nil {
		return bootstrap.ClassifyProbe(bootstrap.CommandResult{}, err)
	}
	return bootstrap.ClassifyProbe(run(ctx, p, "health"))
}

// EnsureLocalHelperInstalled implements bootstrap.LocalEnsurer. An up to
// date helper is left alone; anything else is rewritten with mode 0755 and
// probed again. The install is OK when that probe exits zero.
func (l *Local) EnsureLocalHelperInstalled(ctx context.Context) (bootstrap.LocalResult, error) {
	p, err := l.Path()
	if err != nil {
		return bootstrap.LocalResult{}, err
	}
	want := l.desc.Version()

	first := l.probe(ctx, p)
	if bootstrap.Decide(want, first) == bootstrap.DecisionUpToDate {
		l.logger.Debug("local helper up to date", "path", p, "version", first.Version)
		return bootstrap.LocalResult{OK: true, Version: first.Version, Path: p}, nil
	}
	l.logger.Info("installing local helper", "path", p, "probe", first.String(), "want", want)

	if err := writeExecutable(p, l.desc.Payload()); err != nil {
		return bootstrap.LocalResult{}, err
	}

	verify := l.probe(ctx, p)
	if verify.State == bootstrap.ProbeUnreachable {
		return bootstrap.LocalResult{}, fmt.Errorf("verifying %s: %w", p, verify.Failure())
	}
	res := bootstrap.LocalResult{Path: p, Installed: true, Version: want, OK: verify.Verified()}
	if verify.Version != "" {
		res.Version = verify.Version
	}
	switch {
	case verify.State == bootstrap.ProbeMalformed:
		l.logger.Warn("unparseable health output after install, assuming descriptor version", "error", verify.Err)
	case !res.OK:
		l.logger.Warn("helper failed its health check after install", "error", verify.Failure())
	}
	return res, nil
}

// Exec runs the installed helper with args. A helper that ran and exited
// non-zero is reported in the result, not as an error.
func (l *Local) Exec(ctx context.Context, args ...string) (bootstrap.CommandResult, error) {
	p, err := l.Path()
	if err != nil {
		return bootstrap.CommandResult{}, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return bootstrap.CommandResult{}, fmt.Errorf("%w at %s", ErrHelperNotInstalled, p)
	}
	return run(ctx, p, args...)
}

// writeExecutable writes data next to p and renames it into place.
func writeExecutable(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing helper: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing helper: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting helper mode: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming helper: %w", err)
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) (bootstrap.CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := bootstrap.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return bootstrap.CommandResult{}, err
	}
}
