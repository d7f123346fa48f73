package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// toastExpireAfter removes finished toasts whose owner never dismissed them.
const toastExpireAfter = 10 * time.Second

const toastBarWidth = 20

// toastEntry is one visible notification.
type toastEntry struct {
	id    bootstrap.ToastID
	toast bootstrap.Toast
	gen   int // Bumped on every change to ignore stale expire messages.
}

// toastStack manages several concurrent toasts, one per in-flight target,
// rendered top to bottom in the order they were shown.
//
// It is driven entirely by messages, so a Notifier on another goroutine can
// feed it through tea.Program.Send.
type toastStack struct {
	entries []toastEntry
	spinner spinner.Model
	bar     progress.Model
	width   int
}

// toastShowMsg adds a toast.
type toastShowMsg struct {
	id    bootstrap.ToastID
	toast bootstrap.Toast
}

// toastUpdateMsg replaces the content of a toast.
type toastUpdateMsg struct {
	id    bootstrap.ToastID
	toast bootstrap.Toast
}

// toastDismissMsg removes a toast.
type toastDismissMsg struct {
	id bootstrap.ToastID
}

// toastExpireMsg is sent by the fallback timer for finished toasts.
type toastExpireMsg struct {
	id  bootstrap.ToastID
	gen int
}

func newToastStack() toastStack {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(spinnerStyle),
	)
	bar := progress.New(
		progress.WithGradient(string(colorPrimary), string(colorSecondary)),
		progress.WithWidth(toastBarWidth),
		progress.WithoutPercentage(),
	)
	return toastStack{spinner: s, bar: bar}
}

func (m toastStack) len() int { return len(m.entries) }

func (m toastStack) find(id bootstrap.ToastID) int {
	for i, e := range m.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// set shows or replaces the toast with id.
func (m toastStack) set(id bootstrap.ToastID, t bootstrap.Toast) (toastStack, tea.Cmd) {
	entries := make([]toastEntry, len(m.entries), len(m.entries)+1)
	copy(entries, m.entries)

	i := m.find(id)
	if i < 0 {
		entries = append(entries, toastEntry{id: id, toast: t})
		i = len(entries) - 1
	} else {
		entries[i].toast = t
		entries[i].gen++
	}
	m.entries = entries

	if t.Kind == bootstrap.ToastLoading {
		return m, m.spinner.Tick
	}
	e := entries[i]
	return m, tea.Tick(toastExpireAfter, func(time.Time) tea.Msg {
		return toastExpireMsg{id: e.id, gen: e.gen}
	})
}

// dismiss removes the toast with id, if present.
func (m toastStack) dismiss(id bootstrap.ToastID) toastStack {
	i := m.find(id)
	if i < 0 {
		return m
	}
	entries := make([]toastEntry, 0, len(m.entries)-1)
	entries = append(entries, m.entries[:i]...)
	entries = append(entries, m.entries[i+1:]...)
	m.entries = entries
	return m
}

func (m toastStack) loading() bool {
	for _, e := range m.entries {
		if e.toast.Kind == bootstrap.ToastLoading {
			return true
		}
	}
	return false
}

// update handles toast messages and spinner ticks.
func (m toastStack) update(msg tea.Msg) (toastStack, tea.Cmd) {
	switch msg := msg.(type) {
	case toastShowMsg:
		return m.set(msg.id, msg.toast)

	case toastUpdateMsg:
		return m.set(msg.id, msg.toast)

	case toastDismissMsg:
		return m.dismiss(msg.id), nil

	case toastExpireMsg:
		// Only expire if nothing changed since the timer started.
		if i := m.find(msg.id); i >= 0 && m.entries[i].gen == msg.gen {
			return m.dismiss(msg.id), nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.loading() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// view renders one line per toast with 1 char indent. Returns empty string
// if no toast is active.
func (m toastStack) view() string {
	if len(m.entries) == 0 {
		return ""
	}
	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		line := " " + m.renderToast(e.toast)
		if m.width > 0 {
			line = ansi.Truncate(line, m.width, "…")
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func (m toastStack) renderToast(t bootstrap.Toast) string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString(titleStyle.Render(t.Title))
		b.WriteString(" ")
	}

	switch t.Kind {
	case bootstrap.ToastSuccess:
		b.WriteString(installedStyle.Render("✓ " + t.Message))
	case bootstrap.ToastError:
		b.WriteString(errorStyle.Render("✗ " + t.Message))
	case bootstrap.ToastWarning:
		b.WriteString(warningStyle.Render("! " + t.Message))
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(mutedStyle.Render(t.Message))
		if t.Progress >= 0 {
			b.WriteString(" ")
			b.WriteString(m.bar.ViewAs(t.Progress))
		}
	}
	return b.String()
}
