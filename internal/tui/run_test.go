package tui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

func TestRunModel_QuitsWhenAllJobsDone(t *testing.T) {
	var m tea.Model = newRunModel([]string{"a", "b"})

	m, cmd := m.Update(jobDoneMsg{index: 1, status: bootstrap.Status{Ready: true, Version: "1"}})
	if cmd != nil {
		t.Error("should not quit while a job is pending")
	}
	// Duplicate completion is ignored.
	m, _ = m.Update(jobDoneMsg{index: 1, status: bootstrap.Status{}})

	m, cmd = m.Update(jobDoneMsg{index: 0, status: bootstrap.Status{Reason: "boom"}})
	if cmd == nil {
		t.Fatal("expected quit cmd after last job")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("cmd should produce tea.QuitMsg")
	}

	results := m.(runModel).jobResults()
	if !results[1].Status.Ready || results[1].Status.Version != "1" {
		t.Errorf("results[1] = %+v, first completion should win", results[1])
	}
	if results[0].Status.Reason != "boom" {
		t.Errorf("results[0].Reason = %q, want %q", results[0].Status.Reason, "boom")
	}
}

func TestRunModel_ViewShowsCounter(t *testing.T) {
	var m tea.Model = newRunModel([]string{"a", "b", "c"})
	m, _ = m.Update(jobDoneMsg{index: 2})
	if v := m.View(); !strings.Contains(v, "1/3") {
		t.Errorf("View() = %q, want counter 1/3", v)
	}
}

func TestRunModel_QuitKeys(t *testing.T) {
	for _, k := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune("q")},
	} {
		m := newRunModel([]string{"a"})
		_, cmd := m.Update(k)
		if cmd == nil {
			t.Fatalf("%q: expected quit cmd", k.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%q: cmd should produce tea.QuitMsg", k.String())
		}
	}

	m := newRunModel([]string{"a"})
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}); cmd != nil {
		t.Error("other keys should be ignored")
	}
}

func TestRunModel_UnfinishedJobsInterrupted(t *testing.T) {
	m := newRunModel([]string{"a"})
	results := m.jobResults()
	if results[0].Status.Ready || results[0].Status.Reason != "interrupted" {
		t.Errorf("results[0] = %+v, want interrupted", results[0])
	}
}

func TestRunJobs(t *testing.T) {
	job := func(name string, ok bool) Job {
		return Job{
			Name: name,
			Run: func(ctx context.Context, n bootstrap.Notifier) bootstrap.Status {
				id, _ := n.Show(bootstrap.Toast{Kind: bootstrap.ToastLoading, Title: name, Message: "Installing helper…"})
				time.Sleep(10 * time.Millisecond)
				if !ok {
					_ = n.Update(id, bootstrap.Toast{Kind: bootstrap.ToastError, Title: name, Message: "failed"})
					return bootstrap.Status{Reason: "chmod: denied"}
				}
				_ = n.Update(id, bootstrap.Toast{Kind: bootstrap.ToastSuccess, Title: name, Message: "ready"})
				return bootstrap.Status{Ready: true, Version: "0.2.1", Installed: true}
			},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	results, err := RunJobs(ctx, []Job{job("alpha", true), job("beta", false)}, &out)
	if err != nil {
		t.Fatalf("RunJobs() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Name != "alpha" || !results[0].Status.Ready {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Name != "beta" || results[1].Status.Reason != "chmod: denied" {
		t.Errorf("results[1] = %+v", results[1])
	}

	summary := Summary(results)
	if !strings.Contains(summary, "alpha installed (0.2.1)") {
		t.Errorf("Summary() = %q, want installed line for alpha", summary)
	}
	if !strings.Contains(summary, "chmod: denied") {
		t.Errorf("Summary() = %q, want reason for beta", summary)
	}
}

func TestRunJobs_NoJobs(t *testing.T) {
	results, err := RunJobs(context.Background(), nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("RunJobs() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("| Target | Version |\n|---|---|\n| local | 0.2.1 |\n", 80)
	if !strings.Contains(out, "local") || !strings.Contains(out, "0.2.1") {
		t.Errorf("RenderMarkdown() = %q, want table cells", out)
	}
}
