package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
)

// ErrUnknownSession is returned for a session that was never opened or has
// already been closed.
var ErrUnknownSession = errors.New("unknown session")

// DefaultChunkSize is how many encoded bytes WriteFile sends between
// progress events.
const DefaultChunkSize = 32 * 1024

// cleanupTimeout bounds removing a temp file after a cancelled write.
const cleanupTimeout = 5 * time.Second

// HostConfig describes how to reach one SSH target.
type HostConfig struct {
	// Address is host or host:port; port 22 is assumed when missing.
	Address string
	User    string
	// IdentityFiles are unencrypted private keys tried after the agent.
	IdentityFiles []string
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	// DialTimeout bounds the TCP connect and handshake. Zero means no
	// limit beyond the context.
	DialTimeout time.Duration
}

// SSH is a bootstrap.Transport over golang.org/x/crypto/ssh. Each command
// runs in its own SSH session on a shared client.
type SSH struct {
	progress  *Broadcaster
	logger    *slog.Logger
	chunkSize int

	mu      sync.Mutex
	clients map[bootstrap.Session]*ssh.Client
}

// SSHOption configures an SSH transport.
type SSHOption func(*SSH)

// WithSSHLogger sets the transport logger.
func WithSSHLogger(l *slog.Logger) SSHOption {
	return func(t *SSH) { t.logger = l }
}

// WithChunkSize sets the number of bytes sent between progress events.
func WithChunkSize(n int) SSHOption {
	return func(t *SSH) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// NewSSH creates a transport publishing write progress to progress.
func NewSSH(progress *Broadcaster, opts ...SSHOption) *SSH {
	t := &SSH{
		progress:  progress,
		logger:    slog.New(slog.DiscardHandler),
		chunkSize: DefaultChunkSize,
		clients:   make(map[bootstrap.Session]*ssh.Client),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Dial connects and authenticates to cfg and returns a new session handle.
func (t *SSH) Dial(ctx context.Context, cfg HostConfig) (bootstrap.Session, error) {
	addr := cfg.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	auth, closeAgent := authMethods(cfg, t.logger)
	defer closeAgent()
	if len(auth) == 0 {
		return "", fmt.Errorf("dialing %s: no usable authentication method (agent or identity file)", addr)
	}

	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addr, err)
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addr, err)
	}
	// NewClientConn does not take a context; a deadline stands in for it
	// during the handshake.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
	})
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	s := t.Attach(ssh.NewClient(c, chans, reqs))
	t.logger.Debug("ssh session opened", "session", string(s), "addr", addr, "user", cfg.User)
	return s, nil
}

// Attach registers an already connected client and returns its handle. The
// transport closes the client in Close.
func (t *SSH) Attach(client *ssh.Client) bootstrap.Session {
	s := bootstrap.Session(uuid.NewString())
	t.mu.Lock()
	t.clients[s] = client
	t.mu.Unlock()
	return s
}

// Close closes the client behind s.
func (t *SSH) Close(s bootstrap.Session) error {
	t.mu.Lock()
	c, ok := t.clients[s]
	delete(t.clients, s)
	t.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	return c.Close()
}

// CloseAll closes every open session.
func (t *SSH) CloseAll() error {
	t.mu.Lock()
	clients := t.clients
	t.clients = make(map[bootstrap.Session]*ssh.Client)
	t.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *SSH) client(s bootstrap.Session) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[s]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, s)
	}
	return c, nil
}

// HomeDirectory returns $HOME as seen by the remote login shell.
func (t *SSH) HomeDirectory(ctx context.Context, s bootstrap.Session) (string, error) {
	res, err := t.run(ctx, s, `printf '%s' "$HOME"`, nil)
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("resolving home directory: %w", exitError(res))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// RunCommand runs commandLine through the remote shell.
func (t *SSH) RunCommand(ctx context.Context, s bootstrap.Session, commandLine string) (bootstrap.CommandResult, error) {
	return t.run(ctx, s, commandLine, nil)
}

// CreateDirectories runs mkdir -p for dir.
func (t *SSH) CreateDirectories(ctx context.Context, s bootstrap.Session, dir string) error {
	res, err := t.run(ctx, s, "mkdir -p -- "+bootstrap.ShellQuote(dir), nil)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("creating %s: %w", dir, exitError(res))
	}
	return nil
}

// WriteFile streams content over stdin into a temp file next to path and
// decodes it into place. Progress is published per chunk of encoded bytes.
// If ctx ends mid-write the temp file is removed on a fresh session.
func (t *SSH) WriteFile(ctx context.Context, s bootstrap.Session, path string, base64Content string) error {
	tmp := path + ".upload-" + uuid.NewString()[:8]
	qtmp, qpath := bootstrap.ShellQuote(tmp), bootstrap.ShellQuote(path)
	// GNU coreutils and busybox spell it -d, older BSD/macOS base64 -D. The
	// flag is picked up front so a failed decode reports its own stderr.
	script := fmt.Sprintf(
		"if base64 -d </dev/null >/dev/null 2>&1; then d=-d; else d=-D; fi; "+
			"cat > %[1]s && base64 $d < %[1]s > %[2]s; rc=$?; rm -f %[1]s; exit $rc",
		qtmp, qpath,
	)

	total := int64(len(base64Content))
	body := &progressReader{
		r:     strings.NewReader(base64Content),
		chunk: t.chunkSize,
		report: func(n int64) {
			if t.progress != nil {
				t.progress.Publish(bootstrap.WriteProgress{Path: path, Written: n, Total: total})
			}
		},
	}

	res, err := t.run(ctx, s, script, body)
	if err != nil {
		if ctx.Err() != nil {
			t.removeTemp(ctx, s, tmp)
		}
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writing %s: %w", path, exitError(res))
	}
	return nil
}

// removeTemp deletes an abandoned upload. Best effort: failures are logged.
func (t *SSH) removeTemp(ctx context.Context, s bootstrap.Session, tmp string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	res, err := t.run(ctx, s, "rm -f -- "+bootstrap.ShellQuote(tmp), nil)
	if err == nil && res.ExitCode != 0 {
		err = exitError(res)
	}
	if err != nil {
		t.logger.Warn("removing abandoned upload", "path", tmp, "error", err)
	}
}

// run executes one command in a fresh session. Cancelling ctx closes the
// session, which unblocks the remote side.
func (t *SSH) run(ctx context.Context, s bootstrap.Session, cmd string, stdin io.Reader) (bootstrap.CommandResult, error) {
	client, err := t.client(s)
	if err != nil {
		return bootstrap.CommandResult{}, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return bootstrap.CommandResult{}, fmt.Errorf("opening ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Close()
		return bootstrap.CommandResult{}, ctx.Err()
	case err := <-done:
		res := bootstrap.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *ssh.ExitError
		switch {
		case err == nil:
			return res, nil
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		default:
			return bootstrap.CommandResult{}, err
		}
	}
}

func exitError(res bootstrap.CommandResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		return fmt.Errorf("exited with status %d", res.ExitCode)
	}
	return fmt.Errorf("exited with status %d: %s", res.ExitCode, msg)
}

// progressReader reports the running byte count after every read and caps
// each read at chunk bytes so reports are evenly spaced.
type progressReader struct {
	r      io.Reader
	chunk  int
	n      int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if p.chunk > 0 && len(b) > p.chunk {
		b = b[:p.chunk]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.report(p.n)
	}
	return n, err
}

func authMethods(cfg HostConfig, logger *slog.Logger) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			logger.Debug("ssh agent unavailable", "error", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAgent = func() { conn.Close() }
		}
	}

	var signers []ssh.Signer
	for _, file := range cfg.IdentityFiles {
		signer, err := loadSigner(file)
		if err != nil {
			logger.Warn("skipping identity file", "file", file, "error", err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods, closeAgent
}

func loadSigner(file string) (ssh.Signer, error) {
	data, err := os.ReadFile(expandHome(file))
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, errors.New("key is passphrase protected; load it into ssh-agent instead")
	}
	return signer, err
}

func hostKeyCallback(cfg HostConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(file))
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
