package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaterm/jaterm/internal/core"
	"github.com/jaterm/jaterm/internal/core/helper"
	"github.com/jaterm/jaterm/internal/core/transport"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	config   *core.ConfigManager
	hosts    *core.HostManager
	settings core.Settings
	desc     helper.Descriptor
	logger   *slog.Logger
	timeout  time.Duration

	closeLog func() error
}

// newDeps creates shared dependencies. Called lazily by commands that need them.
func newDeps(cmd *cobra.Command) (*deps, error) {
	config, err := core.NewConfigManager()
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	levelName, _ := flags.GetString("log-level")
	level, err := core.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logFile, _ := flags.GetString("log-file")
	if logFile == "" {
		logFile = cfg.Settings.LogFile
	}
	logger, closeLog, err := core.NewLogger(cmd.ErrOrStderr(), core.LoggerOptions{Level: level, File: logFile})
	if err != nil {
		return nil, err
	}

	manifest, _ := flags.GetString("manifest")
	if manifest == "" {
		manifest = cfg.Settings.HelperManifest
	}
	desc := helper.Default()
	if manifest != "" {
		desc, err = helper.LoadManifest(manifest)
		if err != nil {
			_ = closeLog()
			return nil, err
		}
	}

	timeout, _ := flags.GetDuration("timeout")
	if timeout == 0 {
		timeout = time.Duration(cfg.Settings.CommandTimeout)
	}

	return &deps{
		config:   config,
		hosts:    core.NewHostManager(config),
		settings: cfg.Settings,
		desc:     desc,
		logger:   logger.With("helper", desc.Name(), "want", desc.Version()),
		timeout:  timeout,
		closeLog: closeLog,
	}, nil
}

// Close releases the log file.
func (d *deps) Close() {
	if d.closeLog != nil {
		_ = d.closeLog()
	}
}

// context applies --timeout to parent.
func (d *deps) context(parent context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(parent, d.timeout)
	}
	return context.WithCancel(parent)
}

func (d *deps) local() *transport.Local {
	return transport.NewLocal(d.desc, transport.WithLocalLogger(d.logger.With("target", localTarget)))
}
