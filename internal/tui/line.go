package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// lineProgressStep is the progress granularity LineNotifier prints at.
const lineProgressStep = 25

// LineNotifier is a bootstrap.Notifier for non-interactive output: it writes
// one line per meaningful change instead of redrawing. Loading progress is
// printed in lineProgressStep percent steps.
type LineNotifier struct {
	w io.Writer

	mu     sync.Mutex
	nextID bootstrap.ToastID
	last   map[bootstrap.ToastID]lineState
}

type lineState struct {
	kind    bootstrap.ToastKind
	message string
	step    int
}

// NewLineNotifier creates a notifier writing to w.
func NewLineNotifier(w io.Writer) *LineNotifier {
	return &LineNotifier{w: w, last: make(map[bootstrap.ToastID]lineState)}
}

func (n *LineNotifier) Show(t bootstrap.Toast) (bootstrap.ToastID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.last[id] = stateOf(t)
	return id, n.print(t)
}

func (n *LineNotifier) Update(id bootstrap.ToastID, t bootstrap.Toast) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev, ok := n.last[id]
	if !ok {
		return fmt.Errorf("unknown toast %d", id)
	}
	next := stateOf(t)
	n.last[id] = next
	if t.Kind == bootstrap.ToastLoading && prev.kind == t.Kind && next.step == prev.step {
		return nil
	}
	if t.Kind != bootstrap.ToastLoading && prev.kind == t.Kind && prev.message == t.Message {
		return nil
	}
	return n.print(t)
}

func (n *LineNotifier) Dismiss(id bootstrap.ToastID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.last, id)
	return nil
}

func stateOf(t bootstrap.Toast) lineState {
	s := lineState{kind: t.Kind, message: t.Message, step: -1}
	if t.Progress >= 0 {
		s.step = int(t.Progress*100) / lineProgressStep
	}
	return s
}

func (n *LineNotifier) print(t bootstrap.Toast) error {
	var line string
	switch t.Kind {
	case bootstrap.ToastSuccess:
		line = installedStyle.Render("✓ " + t.Message)
	case bootstrap.ToastError:
		line = errorStyle.Render("✗ " + t.Message)
	case bootstrap.ToastWarning:
		line = warningStyle.Render("! " + t.Message)
	default:
		line = mutedStyle.Render("… " + t.Message)
	}
	if t.Title != "" {
		line = titleStyle.Render(t.Title) + " " + line
	}
	_, err := fmt.Fprintln(n.w, line)
	return err
}
