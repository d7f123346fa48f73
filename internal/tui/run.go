package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// Job is one ensure run shown in the toast stack.
type Job struct {
	Name string
	Run  func(ctx context.Context, n bootstrap.Notifier) bootstrap.Status
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Name   string
	Status bootstrap.Status
}

// jobDoneMsg is sent when a job returns.
type jobDoneMsg struct {
	index  int
	status bootstrap.Status
}

// runModel shows the toast stack until every job has finished.
type runModel struct {
	toasts  toastStack
	names   []string
	results []*bootstrap.Status
	pending int
}

func newRunModel(names []string) runModel {
	return runModel{
		toasts:  newToastStack(),
		names:   names,
		results: make([]*bootstrap.Status, len(names)),
		pending: len(names),
	}
}

func (m runModel) Init() tea.Cmd {
	if m.pending == 0 {
		return tea.Quit
	}
	return m.toasts.spinner.Tick
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case jobDoneMsg:
		if msg.index < 0 || msg.index >= len(m.results) || m.results[msg.index] != nil {
			return m, nil
		}
		results := make([]*bootstrap.Status, len(m.results))
		copy(results, m.results)
		st := msg.status
		results[msg.index] = &st
		m.results = results
		m.pending--
		if m.pending == 0 {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.toasts, cmd = m.toasts.update(msg)
	return m, cmd
}

func (m runModel) View() string {
	done := len(m.names) - m.pending
	header := mutedStyle.Render(fmt.Sprintf(" helper bootstrap %d/%d", done, len(m.names)))
	body := m.toasts.view()
	if body == "" {
		return header + "\n"
	}
	return header + "\n" + body + "\n"
}

// jobResults lists results in job order. Jobs that never finished are
// reported not ready.
func (m runModel) jobResults() []JobResult {
	out := make([]JobResult, len(m.names))
	for i, name := range m.names {
		out[i] = JobResult{Name: name, Status: bootstrap.Status{Reason: "interrupted"}}
		if m.results[i] != nil {
			out[i].Status = *m.results[i]
		}
	}
	return out
}

// RunJobs runs every job concurrently under a bubbletea program that renders
// their toasts to out, and returns when all jobs have finished or ctx is
// cancelled.
func RunJobs(ctx context.Context, jobs []Job, out io.Writer, opts ...tea.ProgramOption) ([]JobResult, error) {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}

	opts = append([]tea.ProgramOption{
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithContext(ctx),
		tea.WithoutSignalHandler(),
	}, opts...)
	p := tea.NewProgram(newRunModel(names), opts...)
	notifier := NewProgramNotifier(p)

	for i, j := range jobs {
		go func() {
			st := j.Run(ctx, notifier)
			p.Send(jobDoneMsg{index: i, status: st})
		}()
	}

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("running progress view: %w", err)
	}
	m, ok := final.(runModel)
	if !ok {
		return nil, errors.New("unexpected final model")
	}
	return m.jobResults(), ctx.Err()
}

// Summary renders one line per result.
func Summary(results []JobResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status.Ready {
			verb := "up to date"
			if r.Status.Installed {
				verb = "installed"
			}
			fmt.Fprintf(&b, "%s %s %s (%s)\n", installedStyle.Render("✓"), titleStyle.Render(r.Name), verb, r.Status.Version)
			continue
		}
		fmt.Fprintf(&b, "%s %s %s\n", errorStyle.Render("✗"), titleStyle.Render(r.Name), errorStyle.Render(r.Status.Reason))
	}
	return b.String()
}
