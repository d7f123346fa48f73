package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/jaterm/jaterm/internal/core/helper"
)

// Orchestrator runs the remote bootstrap for one helper descriptor. It holds
// no per-session state and is safe to use for several sessions at once.
type Orchestrator struct {
	desc      helper.Descriptor
	transport Transport
	progress  ProgressSource
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator. progress may be nil when the transport does
// not report write progress.
func New(desc helper.Descriptor, transport Transport, progress ProgressSource, opts ...Option) *Orchestrator {
	if progress == nil {
		progress = nopProgress{}
	}
	o := &Orchestrator{
		desc:      desc,
		transport: transport,
		progress:  progress,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Descriptor returns the helper this orchestrator installs.
func (o *Orchestrator) Descriptor() helper.Descriptor { return o.desc }

// EnsureHelper makes sure the helper is installed and healthy for session,
// reporting progress through notifier. A nil notifier reports nothing.
func (o *Orchestrator) EnsureHelper(ctx context.Context, session Session, notifier Notifier, opts ...PresenterOption) Status {
	var sink EventSink
	if notifier != nil {
		opts = append([]PresenterOption{WithPresenterLogger(o.logger), WithTitle(o.desc.Name())}, opts...)
		sink = NewPresenter(notifier, opts...).Handle
	}
	return o.Run(ctx, session, sink)
}

// Run is EnsureHelper with the raw event log delivered to sink.
func (o *Orchestrator) Run(ctx context.Context, session Session, sink EventSink) (status Status) {
	logger := o.logger.With("session", string(session), "helper", o.desc.Name())
	emit := safeSink(sink, logger)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal fault: %v", r)
			logger.Error("helper bootstrap panicked", "panic", r)
			emit(Event{Step: StepDone, Status: StatusFailed, Message: err.Error()})
			status = Status{Reason: err.Error()}
		}
	}()

	emit(Event{Step: StepResolveHome, Status: StatusStarted})
	home, err := o.transport.HomeDirectory(ctx, session)
	if err == nil && strings.TrimSpace(home) == "" {
		err = errors.New("empty home directory")
	}
	if err != nil {
		return o.fail(emit, logger, "", &StepError{Step: StepResolveHome, Err: err})
	}
	installPath := o.desc.InstallPath(strings.TrimSpace(home))
	logger = logger.With("path", installPath)
	emit(Event{Step: StepResolveHome, Status: StatusSucceeded, InstallPath: installPath})

	emit(Event{Step: StepProbe, Status: StatusStarted, InstallPath: installPath})
	probe := o.probe(ctx, session, installPath)
	logger.Debug("probed helper", "state", probe.State.String(), "version", probe.Version)

	if Decide(o.desc.Version(), probe) == DecisionUpToDate {
		emit(Event{Step: StepProbe, Status: StatusSucceeded, InstallPath: installPath, Version: probe.Version})
		emit(Event{Step: StepDone, Status: StatusSucceeded, InstallPath: installPath, Version: probe.Version})
		logger.Info("helper up to date", "version", probe.Version)
		return Status{Ready: true, Version: probe.Version, InstallPath: installPath}
	}
	emit(Event{Step: StepProbe, Status: StatusStale, InstallPath: installPath, Version: probe.Version, Message: probe.String()})
	logger.Info("installing helper", "probe", probe.String(), "want", o.desc.Version(), "digest", o.desc.Digest())

	if err := o.install(ctx, session, installPath, emit); err != nil {
		return o.fail(emit, logger, installPath, err)
	}

	emit(Event{Step: StepVerify, Status: StatusStarted, InstallPath: installPath})
	verify := o.probe(ctx, session, installPath)
	version, err := verifiedVersion(o.desc.Version(), verify)
	if err != nil {
		return o.fail(emit, logger, installPath, &StepError{Step: StepVerify, Err: err})
	}
	if verify.State == ProbeMalformed {
		logger.Warn("unparseable health output after install, assuming descriptor version", "error", verify.Err)
	}
	emit(Event{Step: StepVerify, Status: StatusSucceeded, InstallPath: installPath, Version: version})
	emit(Event{Step: StepDone, Status: StatusSucceeded, InstallPath: installPath, Version: version})
	logger.Info("helper installed", "version", version)

	return Status{Ready: true, Version: version, InstallPath: installPath, Installed: true}
}

// Probe runs a single read-only health probe for session.
func (o *Orchestrator) Probe(ctx context.Context, session Session) (ProbeResult, string, error) {
	home, err := o.transport.HomeDirectory(ctx, session)
	if err == nil && strings.TrimSpace(home) == "" {
		err = errors.New("empty home directory")
	}
	if err != nil {
		return ProbeResult{}, "", &StepError{Step: StepResolveHome, Err: err}
	}
	installPath := o.desc.InstallPath(strings.TrimSpace(home))
	return o.probe(ctx, session, installPath), installPath, nil
}

func (o *Orchestrator) probe(ctx context.Context, session Session, installPath string) ProbeResult {
	res, err := o.transport.RunCommand(ctx, session, ShellQuote(installPath)+" health")
	return ClassifyProbe(res, err)
}

// install creates the directory, writes the payload and marks it executable.
func (o *Orchestrator) install(ctx context.Context, session Session, installPath string, emit EventSink) error {
	dir := path.Dir(installPath)
	emit(Event{Step: StepCreateDir, Status: StatusStarted, InstallPath: installPath})
	if err := o.transport.CreateDirectories(ctx, session, dir); err != nil {
		return &StepError{Step: StepCreateDir, Err: err}
	}
	emit(Event{Step: StepCreateDir, Status: StatusSucceeded, InstallPath: installPath})

	if err := o.writePayload(ctx, session, installPath, emit); err != nil {
		return &StepError{Step: StepWrite, Err: err}
	}

	emit(Event{Step: StepChmod, Status: StatusStarted, InstallPath: installPath})
	res, err := o.transport.RunCommand(ctx, session, "chmod 755 "+ShellQuote(installPath))
	if err != nil {
		return &StepError{Step: StepChmod, Err: err}
	}
	if res.ExitCode != 0 {
		return &StepError{Step: StepChmod, Err: commandError(res)}
	}
	emit(Event{Step: StepChmod, Status: StatusSucceeded, InstallPath: installPath})
	return nil
}

// writePayload writes the payload with a progress subscription held for the
// duration of the write and released on every exit path.
func (o *Orchestrator) writePayload(ctx context.Context, session Session, installPath string, emit EventSink) error {
	encoded := base64.StdEncoding.EncodeToString(o.desc.Payload())
	total := int64(len(encoded))

	emit(Event{Step: StepWrite, Status: StatusStarted, InstallPath: installPath, Total: total})

	// released is only read and written under mu, so once the deferred
	// release returns no progress event can still be on its way to emit.
	var (
		mu       sync.Mutex
		released bool
	)
	unsubscribe := o.progress.SubscribeWriteProgress(func(p WriteProgress) {
		if p.Path != installPath {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if released {
			return
		}
		emit(Event{Step: StepWrite, Status: StatusProgress, InstallPath: installPath, Written: p.Written, Total: p.Total})
	})
	defer func() {
		mu.Lock()
		released = true
		mu.Unlock()
		unsubscribe()
	}()

	if err := o.transport.WriteFile(ctx, session, installPath, encoded); err != nil {
		return err
	}
	emit(Event{Step: StepWrite, Status: StatusSucceeded, InstallPath: installPath, Written: total, Total: total})
	return nil
}

func (o *Orchestrator) fail(emit EventSink, logger *slog.Logger, installPath string, err error) Status {
	step := StepDone
	var se *StepError
	if errors.As(err, &se) {
		step = se.Step
	}
	logger.Warn("helper bootstrap failed", "step", string(step), "error", err)
	emit(Event{Step: step, Status: StatusFailed, InstallPath: installPath, Message: err.Error()})
	return Status{Reason: err.Error()}
}

// safeSink guards the orchestrator against a misbehaving sink.
func safeSink(sink EventSink, logger *slog.Logger) EventSink {
	if sink == nil {
		return func(Event) {}
	}
	return func(e Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("event sink panicked", "step", string(e.Step), "panic", r)
			}
		}()
		sink(e)
	}
}
