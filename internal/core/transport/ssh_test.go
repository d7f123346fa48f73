package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/jaterm/jaterm/internal/core/bootstrap"
	"github.com/jaterm/jaterm/internal/core/helper"
)

// testServer is an in-process SSH server that runs exec requests with sh
// under a temporary HOME.
type testServer struct {
	addr    string
	home    string
	hostKey ssh.PublicKey

	mu       sync.Mutex
	commands []string
}

// Commands returns every exec request received so far.
func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func startServer(t *testing.T, clientKey ssh.PublicKey, home string) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{addr: ln.Addr().String(), home: home, hostKey: hostSigner.PublicKey()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg)
		}
	}()
	return srv
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, chReqs)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()
		_ = req.Reply(true, nil)

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Dir = s.home
		cmd.Env = append(os.Environ(), "HOME="+s.home)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()

		code := 0
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = 127
			}
		}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&struct{ Status uint32 }{uint32(code)}))
		return
	}
}

type sshFixture struct {
	server    *testServer
	transport *SSH
	progress  *Broadcaster
	cfg       HostConfig
}

func newSSHFixture(t *testing.T, opts ...SSHOption) *sshFixture {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")

	dir := t.TempDir()
	home := filepath.Join(dir, "o'brien")
	require.NoError(t, os.MkdirAll(home, 0o755))

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	srv := startServer(t, sshPub, home)

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{srv.addr}, srv.hostKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	progress := NewBroadcaster()
	tr := NewSSH(progress, opts...)
	t.Cleanup(func() { _ = tr.CloseAll() })

	return &sshFixture{
		server:    srv,
		transport: tr,
		progress:  progress,
		cfg: HostConfig{
			Address:        srv.addr,
			User:           "tester",
			IdentityFiles:  []string{keyFile},
			KnownHostsFile: knownHosts,
			DialTimeout:    5 * time.Second,
		},
	}
}

func (f *sshFixture) dial(t *testing.T) bootstrap.Session {
	t.Helper()
	s, err := f.transport.Dial(context.Background(), f.cfg)
	require.NoError(t, err)
	return s
}

func TestSSH_Primitives(t *testing.T) {
	f := newSSHFixture(t)
	s := f.dial(t)
	ctx := context.Background()

	home, err := f.transport.HomeDirectory(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, f.server.home, home)

	res, err := f.transport.RunCommand(ctx, s, "echo out; echo err >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, bootstrap.CommandResult{ExitCode: 3, Stdout: "out\n", Stderr: "err\n"}, res)

	res, err = f.transport.RunCommand(ctx, s, bootstrap.ShellQuote(filepath.Join(home, "missing"))+" health")
	require.NoError(t, err, "a missing binary is a failed command, not a transport error")
	assert.NotZero(t, res.ExitCode)

	dir := filepath.Join(home, "a b", "c")
	require.NoError(t, f.transport.CreateDirectories(ctx, s, dir))
	require.NoError(t, f.transport.CreateDirectories(ctx, s, dir), "mkdir must succeed when the directory exists")
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSSH_WriteFilePublishesProgress(t *testing.T) {
	f := newSSHFixture(t, WithChunkSize(100))
	s := f.dial(t)

	payload := bytes.Repeat([]byte("jaterm\n"), 200)
	encoded := base64.StdEncoding.EncodeToString(payload)
	target := filepath.Join(f.server.home, "payload")

	var mu sync.Mutex
	var events []bootstrap.WriteProgress
	unsub := f.progress.SubscribeWriteProgress(func(p bootstrap.WriteProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, f.transport.WriteFile(context.Background(), s, target, encoded))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(events), 1)
	var last int64
	for _, e := range events {
		assert.Equal(t, target, e.Path)
		assert.Equal(t, int64(len(encoded)), e.Total)
		assert.Greater(t, e.Written, last)
		last = e.Written
	}
	assert.Equal(t, int64(len(encoded)), last)

	leftovers, err := filepath.Glob(target + ".upload-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp file should be removed")
}

func TestSSH_WriteFileRejectsBadBase64(t *testing.T) {
	f := newSSHFixture(t)
	s := f.dial(t)

	err := f.transport.WriteFile(context.Background(), s, filepath.Join(f.server.home, "x"), "!!!not base64!!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")
	assert.NotContains(t, err.Error(), "invalid option", "the decoder's own error should be reported")
}

func TestSSH_CancelledWriteRemovesTempFile(t *testing.T) {
	f := newSSHFixture(t, WithChunkSize(64))
	s := f.dial(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsub := f.progress.SubscribeWriteProgress(func(bootstrap.WriteProgress) { cancel() })
	defer unsub()

	target := filepath.Join(f.server.home, "big")
	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("x"), 4<<20))
	err := f.transport.WriteFile(ctx, s, target, payload)
	require.ErrorIs(t, err, context.Canceled)

	var upload string
	for _, c := range f.server.Commands() {
		if strings.HasPrefix(c, "if base64") {
			upload = c
		}
	}
	require.NotEmpty(t, upload, "upload command not seen")

	// The home directory contains a quote, so match the quoted form.
	quoted := strings.TrimSuffix(bootstrap.ShellQuote(target), "'") + ".upload-"
	assert.Eventually(t, func() bool {
		for _, c := range f.server.Commands() {
			if strings.HasPrefix(c, "rm -f -- ") && strings.Contains(c, quoted) {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "temp file removal was not requested")
}

func TestSSH_EnsureHelperEndToEnd(t *testing.T) {
	f := newSSHFixture(t, WithChunkSize(256))
	s := f.dial(t)
	o := bootstrap.New(helper.Default(), f.transport, f.progress)

	rec := &bootstrap.Recorder{}
	first := o.Run(context.Background(), s, rec.Record)

	wantPath := filepath.Join(f.server.home, ".jaterm-helper", "jaterm-agent")
	require.True(t, first.Ready, "reason: %s", first.Reason)
	assert.True(t, first.Installed)
	assert.Equal(t, helper.Version, first.Version)
	assert.Equal(t, wantPath, first.InstallPath)

	info, err := os.Stat(wantPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	var progressEvents int
	for _, e := range rec.Events() {
		if e.Status == bootstrap.StatusProgress {
			progressEvents++
		}
	}
	assert.Greater(t, progressEvents, 0)
	assert.Zero(t, f.progress.Subscribers())

	second := o.Run(context.Background(), s, nil)
	require.True(t, second.Ready)
	assert.False(t, second.Installed, "second run must not reinstall")
	assert.Equal(t, helper.Version, second.Version)
}

func TestSSH_ContextCancelClosesSession(t *testing.T) {
	f := newSSHFixture(t)
	s := f.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.transport.RunCommand(ctx, s, "sleep 2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSSH_UnknownSession(t *testing.T) {
	tr := NewSSH(NewBroadcaster())

	_, err := tr.HomeDirectory(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownSession)
	require.ErrorIs(t, tr.Close("nope"), ErrUnknownSession)
}

func TestSSH_CloseForgetsSession(t *testing.T) {
	f := newSSHFixture(t)
	s := f.dial(t)

	require.NoError(t, f.transport.Close(s))
	_, err := f.transport.RunCommand(context.Background(), s, "true")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestSSH_DialVerifiesHostKey(t *testing.T) {
	f := newSSHFixture(t)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshOther, err := ssh.NewPublicKey(otherPub)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfg.KnownHostsFile, []byte(knownhosts.Line([]string{f.server.addr}, sshOther)+"\n"), 0o600))

	_, err = f.transport.Dial(context.Background(), f.cfg)
	require.Error(t, err)

	insecure := f.cfg
	insecure.InsecureIgnoreHostKey = true
	s, err := f.transport.Dial(context.Background(), insecure)
	require.NoError(t, err)
	require.NoError(t, f.transport.Close(s))
}

func TestSSH_DialWithoutCredentials(t *testing.T) {
	f := newSSHFixture(t)
	cfg := f.cfg
	cfg.IdentityFiles = nil

	_, err := f.transport.Dial(context.Background(), cfg)
	assert.ErrorContains(t, err, "no usable authentication method")
}

func TestProgressReader_CapsChunks(t *testing.T) {
	var reports []int64
	r := &progressReader{
		r:      bytes.NewReader(make([]byte, 250)),
		chunk:  100,
		report: func(n int64) { reports = append(reports, n) },
	}
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 250}, reports)
}
