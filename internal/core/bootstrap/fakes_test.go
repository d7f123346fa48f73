package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type reply struct {
	res CommandResult
	err error
}

func healthy(version string) reply {
	return reply{res: CommandResult{Stdout: fmt.Sprintf(`{"ok":true,"version":%q}`+"\n", version)}}
}

// fakeTransport records every call in order and answers from a script.
type fakeTransport struct {
	mu sync.Mutex

	homes   map[Session]string
	homeErr error

	probes   map[Session][]reply
	mkdirErr error
	writeErr error
	chmod    reply

	// onWrite runs inside WriteFile before it returns.
	onWrite func(s Session, path string)
	panicOn string

	calls   []string
	written map[string]string
}

func newFakeTransport(home string, probes ...reply) *fakeTransport {
	return &fakeTransport{
		homes:   map[Session]string{"s1": home},
		probes:  map[Session][]reply{"s1": probes},
		written: make(map[string]string),
	}
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.panicOn != "" && strings.HasPrefix(call, f.panicOn) {
		panic("transport exploded")
	}
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) HomeDirectory(_ context.Context, s Session) (string, error) {
	f.record("home")
	if f.homeErr != nil {
		return "", f.homeErr
	}
	home, ok := f.homes[s]
	if !ok {
		return "", errors.New("unknown session")
	}
	return home, nil
}

func (f *fakeTransport) RunCommand(_ context.Context, s Session, line string) (CommandResult, error) {
	f.record("run " + line)
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasSuffix(line, " health"):
		queue := f.probes[s]
		if len(queue) == 0 {
			return CommandResult{}, errors.New("no such file or directory")
		}
		r := queue[0]
		f.probes[s] = queue[1:]
		return r.res, r.err
	case strings.HasPrefix(line, "chmod "):
		return f.chmod.res, f.chmod.err
	}
	return CommandResult{ExitCode: 127, Stderr: "unexpected command"}, nil
}

func (f *fakeTransport) CreateDirectories(_ context.Context, _ Session, path string) error {
	f.record("mkdir " + path)
	return f.mkdirErr
}

func (f *fakeTransport) WriteFile(_ context.Context, s Session, path string, content string) error {
	f.record("write " + path)
	if f.onWrite != nil {
		f.onWrite(s, path)
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.written[path] = content
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) countPrefix(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeProgress is a minimal broadcast stream.
type fakeProgress struct {
	mu   sync.Mutex
	next int
	subs map[int]func(WriteProgress)
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{subs: make(map[int]func(WriteProgress))}
}

func (p *fakeProgress) SubscribeWriteProgress(h func(WriteProgress)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.subs[id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *fakeProgress) Publish(e WriteProgress) {
	p.mu.Lock()
	handlers := make([]func(WriteProgress), 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

func (p *fakeProgress) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// fakeNotifier records toasts.
type fakeNotifier struct {
	mu        sync.Mutex
	next      ToastID
	toasts    map[ToastID]Toast
	updates   map[ToastID]int
	dismissed map[ToastID]bool
	shows     []Toast
	showErr   error
	panics    bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		next:      1,
		toasts:    make(map[ToastID]Toast),
		updates:   make(map[ToastID]int),
		dismissed: make(map[ToastID]bool),
	}
}

func (n *fakeNotifier) Show(t Toast) (ToastID, error) {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.showErr != nil {
		return 0, n.showErr
	}
	id := n.next
	n.next++
	n.toasts[id] = t
	n.shows = append(n.shows, t)
	return id, nil
}

func (n *fakeNotifier) Update(id ToastID, t Toast) error {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts[id] = t
	n.updates[id]++
	return nil
}

func (n *fakeNotifier) Dismiss(id ToastID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed[id] = true
	return nil
}

func (n *fakeNotifier) Updates(id ToastID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updates[id]
}

func (n *fakeNotifier) Toast(id ToastID) Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.toasts[id]
}

func (n *fakeNotifier) Dismissed(id ToastID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dismissed[id]
}

func (n *fakeNotifier) Shows() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Toast, len(n.shows))
	copy(out, n.shows)
	return out
}

type fakeLocal struct {
	res   LocalResult
	err   error
	panic bool
}

func (f fakeLocal) EnsureLocalHelperInstalled(context.Context) (LocalResult, error) {
	if f.panic {
		panic("local exploded")
	}
	return f.res, f.err
}
