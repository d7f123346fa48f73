package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// sender is the part of *tea.Program a notifier needs.
type sender interface {
	Send(msg tea.Msg)
}

// ProgramNotifier is a bootstrap.Notifier that forwards every call to a
// running bubbletea program as a toast message. It is safe for concurrent
// use; ids are unique across all callers sharing one notifier.
type ProgramNotifier struct {
	program sender
	nextID  atomic.Int64
}

// NewProgramNotifier creates a notifier feeding p.
func NewProgramNotifier(p sender) *ProgramNotifier {
	return &ProgramNotifier{program: p}
}

func (n *ProgramNotifier) Show(t bootstrap.Toast) (bootstrap.ToastID, error) {
	id := bootstrap.ToastID(n.nextID.Add(1))
	n.program.Send(toastShowMsg{id: id, toast: t})
	return id, nil
}

func (n *ProgramNotifier) Update(id bootstrap.ToastID, t bootstrap.Toast) error {
	n.program.Send(toastUpdateMsg{id: id, toast: t})
	return nil
}

func (n *ProgramNotifier) Dismiss(id bootstrap.ToastID) error {
	n.program.Send(toastDismissMsg{id: id})
	return nil
}
