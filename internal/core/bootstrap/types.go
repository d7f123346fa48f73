// Package bootstrap makes sure the jaterm helper is installed, executable and
// healthy on a target before anything else relies on it.
//
// The remote flow is a small state machine:
//
//	resolve-home → probe → { up to date | mkdir → write → chmod → verify }
//
// Every expected failure collapses into a Status with Ready=false. The
// orchestrator never returns an error or lets a panic escape its public
// entry points; callers only decide whether to block dependent features.
package bootstrap

import (
	"context"
	"fmt"
)

// Session is an opaque handle to one transport connection. The caller owns
// its lifecycle; the orchestrator only passes it back to the Transport.
type Session string

// Status is the outcome of an ensure call.
type Status struct {
	Ready       bool   `json:"ready"`
	Version     string `json:"version,omitempty"`
	InstallPath string `json:"installPath,omitempty"`
	// Installed is true when this call wrote the payload.
	Installed bool `json:"installed,omitempty"`
	// Reason is the stringified failure, for display only.
	Reason string `json:"reason,omitempty"`
}

// CommandResult is the outcome of a remote command that ran to completion.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// WriteProgress reports bytes sent for an in-flight write. Events for every
// write in the process share one stream and are told apart by Path.
type WriteProgress struct {
	Path    string
	Written int64
	Total   int64
}

// Transport runs the primitive operations against a target.
//
// RunCommand returns an error only when the command could not be run at all;
// a command that ran and failed is a CommandResult with a non-zero ExitCode.
type Transport interface {
	HomeDirectory(ctx context.Context, s Session) (string, error)
	RunCommand(ctx context.Context, s Session, commandLine string) (CommandResult, error)
	// CreateDirectories is recursive and must succeed if the directory exists.
	CreateDirectories(ctx context.Context, s Session, path string) error
	// WriteFile overwrites path with the decoded base64 content.
	WriteFile(ctx context.Context, s Session, path string, base64Content string) error
}

// ProgressSource is the process-wide write-progress stream.
type ProgressSource interface {
	SubscribeWriteProgress(handler func(WriteProgress)) (unsubscribe func())
}

// LocalResult is what a local ensure primitive reports.
type LocalResult struct {
	OK        bool
	Version   string
	Path      string
	Installed bool
}

// LocalEnsurer detects, installs and verifies the helper on this machine in
// one synchronous call.
type LocalEnsurer interface {
	EnsureLocalHelperInstalled(ctx context.Context) (LocalResult, error)
}

// StepError records which step of the bootstrap failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type nopProgress struct{}

func (nopProgress) SubscribeWriteProgress(func(WriteProgress)) func() { return func() {} }
