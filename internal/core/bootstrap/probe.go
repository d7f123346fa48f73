package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HealthRecord is what `<helper> health` prints on stdout.
type HealthRecord struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// ErrMalformedHealth is returned by ParseHealth for output that is not a
// health record.
var ErrMalformedHealth = errors.New("malformed health output")

// ParseHealth parses helper health output. Both fields are required and
// must have the right JSON type; anything else is ErrMalformedHealth.
func ParseHealth(stdout string) (HealthRecord, error) {
	var raw struct {
		OK      *bool   `json:"ok"`
		Version *string `json:"version"`
	}
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(stdout)))
	if err := dec.Decode(&raw); err != nil {
		return HealthRecord{}, fmt.Errorf("%w: %v", ErrMalformedHealth, err)
	}
	if dec.More() {
		return HealthRecord{}, fmt.Errorf("%w: trailing data", ErrMalformedHealth)
	}
	if raw.OK == nil || raw.Version == nil {
		return HealthRecord{}, fmt.Errorf("%w: missing ok or version", ErrMalformedHealth)
	}
	return HealthRecord{OK: *raw.OK, Version: *raw.Version}, nil
}

// ProbeState classifies a health probe.
type ProbeState int

const (
	// ProbeUnreachable: the command could not be run (no such file,
	// permission denied at the transport, broken session).
	ProbeUnreachable ProbeState = iota
	// ProbeUnhealthy: the helper ran and exited non-zero, or reported ok=false.
	ProbeUnhealthy
	// ProbeMalformed: exit 0 but stdout is not a health record.
	ProbeMalformed
	// ProbeHealthy: exit 0 with a valid record reporting ok=true.
	ProbeHealthy
)

func (s ProbeState) String() string {
	switch s {
	case ProbeUnreachable:
		return "unreachable"
	case ProbeUnhealthy:
		return "unhealthy"
	case ProbeMalformed:
		return "malformed"
	case ProbeHealthy:
		return "healthy"
	default:
		return fmt.Sprintf("ProbeState(%d)", int(s))
	}
}

// ProbeResult is the classified outcome of one health probe.
type ProbeResult struct {
	State    ProbeState
	Version  string
	ExitCode int
	Stderr   string
	Err      error
}

// ClassifyProbe turns a RunCommand outcome into a ProbeResult.
func ClassifyProbe(res CommandResult, err error) ProbeResult {
	if err != nil {
		return ProbeResult{State: ProbeUnreachable, ExitCode: -1, Err: err}
	}
	pr := ProbeResult{ExitCode: res.ExitCode, Stderr: res.Stderr}
	if res.ExitCode != 0 {
		pr.State = ProbeUnhealthy
		return pr
	}
	rec, perr := ParseHealth(res.Stdout)
	if perr != nil {
		pr.State = ProbeMalformed
		pr.Err = perr
		return pr
	}
	pr.Version = rec.Version
	if !rec.OK {
		pr.State = ProbeUnhealthy
		return pr
	}
	pr.State = ProbeHealthy
	return pr
}

// Failure describes why a probe did not find a healthy helper.
func (p ProbeResult) Failure() error {
	switch p.State {
	case ProbeHealthy:
		return nil
	case ProbeUnreachable:
		return fmt.Errorf("running health check: %w", p.Err)
	case ProbeMalformed:
		return p.Err
	}
	if msg := strings.TrimSpace(p.Stderr); msg != "" {
		return errors.New(msg)
	}
	if p.ExitCode == 0 {
		return errors.New("helper reported not ok")
	}
	return fmt.Errorf("health check exited with status %d", p.ExitCode)
}

func (p ProbeResult) String() string {
	if p.State == ProbeHealthy {
		return fmt.Sprintf("healthy (version %s)", p.Version)
	}
	if err := p.Failure(); err != nil {
		return p.State.String() + ": " + err.Error()
	}
	return p.State.String()
}

// Decision is what the orchestrator does after the first probe.
type Decision int

const (
	DecisionInstall Decision = iota
	DecisionUpToDate
)

// Decide maps a probe to a decision. Only a healthy helper reporting exactly
// the wanted version skips the install; versions are compared as strings.
//
//	unreachable  → install
//	unhealthy    → install
//	malformed    → install
//	healthy, ≠   → install
//	healthy, =   → up to date
func Decide(wantVersion string, p ProbeResult) Decision {
	if p.State == ProbeHealthy && p.Version == wantVersion {
		return DecisionUpToDate
	}
	return DecisionInstall
}

// verifiedVersion decides the outcome of the post-install probe. Only the
// exit code decides success: the payload was just written, so a zero exit is
// trusted even when the record says ok=false or cannot be parsed. The
// reported version is used when there is one, the descriptor version
// otherwise.
func verifiedVersion(wantVersion string, p ProbeResult) (string, error) {
	if !p.Verified() {
		return "", p.Failure()
	}
	if p.Version != "" {
		return p.Version, nil
	}
	return wantVersion, nil
}

// Verified reports whether the helper ran and exited zero, which is all a
// post-install check requires.
func (p ProbeResult) Verified() bool {
	switch p.State {
	case ProbeHealthy, ProbeMalformed:
		return true
	case ProbeUnhealthy:
		return p.ExitCode == 0
	}
	return false
}

// commandError formats a failed command for display.
func commandError(res CommandResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		return fmt.Errorf("exited with status %d", res.ExitCode)
	}
	return fmt.Errorf("exited with status %d: %s", res.ExitCode, msg)
}
