package bootstrap

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ToastKind selects the look and lifetime of a notification.
type ToastKind int

const (
	ToastLoading ToastKind = iota // persists until updated or dismissed
	ToastSuccess
	ToastError
	ToastWarning
)

func (k ToastKind) String() string {
	switch k {
	case ToastLoading:
		return "loading"
	case ToastSuccess:
		return "success"
	case ToastError:
		return "error"
	case ToastWarning:
		return "warning"
	default:
		return fmt.Sprintf("ToastKind(%d)", int(k))
	}
}

// NoProgress marks a toast without a progress bar.
const NoProgress = -1.0

// ToastID identifies a toast returned by Notifier.Show.
type ToastID int64

// Toast is the content of a notification. Update replaces the whole toast.
type Toast struct {
	Kind    ToastKind
	Title   string
	Message string
	// Progress is 0..1, or NoProgress.
	Progress float64
}

// Notifier shows user-visible progress. It is best effort: its errors are
// logged and never change the outcome of a bootstrap.
type Notifier interface {
	Show(t Toast) (ToastID, error)
	Update(id ToastID, t Toast) error
	Dismiss(id ToastID) error
}

// Dismiss delays for finished toasts.
const (
	SuccessDismissDelay = 2 * time.Second
	ErrorDismissDelay   = 5 * time.Second
)

// Presenter turns bootstrap events into Notifier calls. One Presenter tracks
// one invocation.
type Presenter struct {
	notifier     Notifier
	logger       *slog.Logger
	title        string
	successDelay time.Duration
	errorDelay   time.Duration
	afterFunc    func(time.Duration, func())

	mu     sync.Mutex
	id     ToastID
	open   bool
	closed bool
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithTitle sets the toast title, typically the target's display name.
func WithTitle(title string) PresenterOption {
	return func(p *Presenter) { p.title = title }
}

// WithPresenterLogger sets where swallowed notifier errors are logged.
func WithPresenterLogger(l *slog.Logger) PresenterOption {
	return func(p *Presenter) { p.logger = l }
}

// WithDismissDelays overrides the success and error dismiss delays.
func WithDismissDelays(success, failure time.Duration) PresenterOption {
	return func(p *Presenter) {
		p.successDelay = success
		p.errorDelay = failure
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling dismissals.
func WithAfterFunc(f func(time.Duration, func())) PresenterOption {
	return func(p *Presenter) { p.afterFunc = f }
}

// NewPresenter creates a Presenter for n.
func NewPresenter(n Notifier, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		notifier:     n,
		logger:       slog.New(slog.DiscardHandler),
		title:        "helper",
		successDelay: SuccessDismissDelay,
		errorDelay:   ErrorDismissDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle is the Presenter's EventSink.
func (p *Presenter) Handle(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	switch {
	case e.Step == StepWrite && e.Status == StatusStarted:
		id, ok := p.show(Toast{
			Kind:     ToastLoading,
			Title:    p.title,
			Message:  "Installing helper…",
			Progress: 0,
		})
		if ok {
			p.id = id
			p.open = true
		}

	case e.Step == StepWrite && e.Status == StatusProgress:
		if !p.open || e.Total <= 0 {
			return
		}
		pct := int(e.Written * 100 / e.Total)
		p.update(Toast{
			Kind:     ToastLoading,
			Title:    p.title,
			Message:  fmt.Sprintf("Uploading helper… %d%%", pct),
			Progress: float64(e.Written) / float64(e.Total),
		})

	case e.Step == StepVerify && e.Status == StatusStarted:
		if p.open {
			p.update(Toast{Kind: ToastLoading, Title: p.title, Message: "Verifying helper…", Progress: 1})
		}

	case e.Step == StepVerify && e.Status == StatusSucceeded:
		if !p.open {
			return
		}
		p.update(Toast{
			Kind:     ToastSuccess,
			Title:    p.title,
			Message:  fmt.Sprintf("Helper %s ready", e.Version),
			Progress: 1,
		})
		p.scheduleDismiss(p.successDelay)

	case e.Status == StatusFailed:
		t := Toast{
			Kind:     ToastError,
			Title:    p.title,
			Message:  "Helper setup failed: " + e.Message,
			Progress: NoProgress,
		}
		if p.open {
			p.update(t)
		} else if id, ok := p.show(t); ok {
			p.id = id
			p.open = true
		}
		if p.open {
			p.scheduleDismiss(p.errorDelay)
		}
		p.closed = true
	}
}

// ReportConnectFailure shows an error toast for a target whose session could
// not be opened, so the bootstrap never ran. A nil notifier reports nothing.
func ReportConnectFailure(n Notifier, err error, opts ...PresenterOption) {
	if n == nil || err == nil {
		return
	}
	NewPresenter(n, opts...).Handle(Event{Step: StepConnect, Status: StatusFailed, Message: err.Error()})
}

func (p *Presenter) scheduleDismiss(d time.Duration) {
	id := p.id
	p.open = false
	p.closed = true
	p.afterFunc(d, func() {
		p.safely("dismiss", func() error { return p.notifier.Dismiss(id) })
	})
}

func (p *Presenter) show(t Toast) (ToastID, bool) {
	var id ToastID
	ok := p.safely("show", func() error {
		var err error
		id, err = p.notifier.Show(t)
		return err
	})
	return id, ok
}

func (p *Presenter) update(t Toast) {
	id := p.id
	p.safely("update", func() error { return p.notifier.Update(id, t) })
}

// safely runs a notifier call, swallowing errors and panics.
func (p *Presenter) safely(op string, call func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("notifier panicked", "op", op, "panic", r)
			ok = false
		}
	}()
	if err := call(); err != nil {
		p.logger.Warn("notifier call failed", "op", op, "error", err)
		return false
	}
	return true
}
