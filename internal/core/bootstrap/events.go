package bootstrap

import "sync"

// Step names one stage of the bootstrap.
type Step string

const (
	// StepConnect is reported by callers that open the session themselves.
	StepConnect     Step = "connect"
	StepResolveHome Step = "resolve-home"
	StepProbe       Step = "probe"
	StepCreateDir   Step = "mkdir"
	StepWrite       Step = "write"
	StepChmod       Step = "chmod"
	StepVerify      Step = "verify"
	StepDone        Step = "done"
)

// StepStatus is the state a step reports.
type StepStatus string

const (
	StatusStarted   StepStatus = "started"
	StatusProgress  StepStatus = "progress"
	StatusSucceeded StepStatus = "succeeded"
	// StatusStale is reported by the probe when an install is needed.
	StatusStale  StepStatus = "stale"
	StatusFailed StepStatus = "failed"
)

// Event is one entry of the bootstrap event log.
type Event struct {
	Step        Step
	Status      StepStatus
	InstallPath string
	Version     string
	Written     int64
	Total       int64
	Message     string
}

// EventSink receives events. Progress events may arrive from the
// transport's goroutine, so sinks must be safe for concurrent use.
type EventSink func(Event)

// Recorder is an EventSink that keeps every event in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends e. Use it as an EventSink.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Steps returns "step/status" pairs, progress events excluded.
func (r *Recorder) Steps() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Status == StatusProgress {
			continue
		}
		out = append(out, string(e.Step)+"/"+string(e.Status))
	}
	return out
}

// Tee fans one event out to several sinks. Nil sinks are skipped.
func Tee(sinks ...EventSink) EventSink {
	return func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s(e)
			}
		}
	}
}
