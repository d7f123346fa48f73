package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaterm/jaterm/internal/core"
	"github.com/jaterm/jaterm/internal/core/bootstrap"
	"github.com/jaterm/jaterm/internal/core/transport"
)

const localTarget = "local"

// dialTimeout bounds connecting to one host when no --timeout is set.
const dialTimeout = 15 * time.Second

// target is the local machine (host == nil) or a configured SSH host.
type target struct {
	name string
	host *core.Host
}

// addTargetFlags adds --host, --all and --local to a command.
func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("host", nil, "Configured host name (repeatable)")
	cmd.Flags().Bool("all", false, "All configured hosts")
	cmd.Flags().Bool("local", false, "This machine (default when no host is given)")
}

// resolveTargets parses the target flags. With no flags the local machine
// is the only target.
func resolveTargets(cmd *cobra.Command, d *deps) ([]target, error) {
	names, _ := cmd.Flags().GetStringSlice("host")
	all, _ := cmd.Flags().GetBool("all")
	local, _ := cmd.Flags().GetBool("local")

	var targets []target
	if local || (len(names) == 0 && !all) {
		targets = append(targets, target{name: localTarget})
	}

	seen := map[string]bool{}
	add := func(h core.Host) {
		if seen[h.Name] {
			return
		}
		seen[h.Name] = true
		targets = append(targets, target{name: h.Name, host: &h})
	}

	if all {
		hosts, err := d.hosts.List()
		if err != nil {
			return nil, err
		}
		if len(hosts) == 0 && !local {
			return nil, fmt.Errorf("no hosts configured; use 'jaterm host add' first")
		}
		for _, h := range hosts {
			add(h)
		}
	}
	for _, name := range names {
		h, err := d.hosts.Find(name)
		if err != nil {
			return nil, err
		}
		add(h)
	}
	return targets, nil
}

// hostConfig maps a configured host to the SSH transport's config.
func hostConfig(h core.Host) transport.HostConfig {
	cfg := transport.HostConfig{
		Address:               h.Address,
		User:                  h.User,
		KnownHostsFile:        h.KnownHostsFile,
		InsecureIgnoreHostKey: h.InsecureIgnoreHostKey,
		DialTimeout:           dialTimeout,
	}
	if h.IdentityFile != "" {
		cfg.IdentityFiles = []string{h.IdentityFile}
	}
	return cfg
}

// remote is an SSH transport plus the progress stream it publishes to.
type remote struct {
	progress *transport.Broadcaster
	ssh      *transport.SSH
}

func newRemote(d *deps) *remote {
	progress := transport.NewBroadcaster()
	return &remote{
		progress: progress,
		ssh:      transport.NewSSH(progress, transport.WithSSHLogger(d.logger)),
	}
}

// withSession dials h, runs fn and closes the session.
func (r *remote) withSession(ctx context.Context, h core.Host, fn func(bootstrap.Session) error) error {
	s, err := r.ssh.Dial(ctx, hostConfig(h))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", h.Name, err)
	}
	defer func() { _ = r.ssh.Close(s) }()
	return fn(s)
}
