package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jaterm/jaterm/internal/core"
	"github.com/jaterm/jaterm/internal/core/bootstrap"
	"github.com/jaterm/jaterm/internal/tui"
)

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Install, check and run the jaterm helper",
}

var helperEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Make sure the helper is installed and healthy",
	Long: `Probe the helper on each target and install or replace it when it is
missing, unhealthy or a different version. Targets run concurrently.

Exits non-zero when any target is not ready.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		targets, err := resolveTargets(cmd, d)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := d.context(cmd.Context())
		defer cancel()

		r := newRemote(d)
		defer func() { _ = r.ssh.CloseAll() }()

		jobs := make([]tui.Job, len(targets))
		for i, t := range targets {
			jobs[i] = tui.Job{Name: t.name, Run: ensureJob(d, r, t)}
		}

		var results []tui.JobResult
		stderr := cmd.ErrOrStderr()
		if !asJSON && core.IsTerminal(stderr) {
			results, err = tui.RunJobs(ctx, jobs, stderr)
			if err != nil {
				return err
			}
		} else {
			var n bootstrap.Notifier
			if !asJSON {
				n = tui.NewLineNotifier(stderr)
			}
			results = runJobs(ctx, jobs, n)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := writeJSON(out, jobStatuses(results)); err != nil {
				return err
			}
		} else {
			fmt.Fprint(out, tui.Summary(results))
		}

		failed := 0
		for _, res := range results {
			if !res.Status.Ready {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("helper not ready on %d of %d target(s)", failed, len(results))
		}
		return nil
	},
}

// ensureJob builds the ensure run for one target. Local targets report no
// toasts: the local primitive is a single synchronous call.
func ensureJob(d *deps, r *remote, t target) func(context.Context, bootstrap.Notifier) bootstrap.Status {
	if t.host == nil {
		return func(ctx context.Context, _ bootstrap.Notifier) bootstrap.Status {
			return bootstrap.EnsureLocalHelper(ctx, d.local())
		}
	}
	h := *t.host
	return func(ctx context.Context, n bootstrap.Notifier) bootstrap.Status {
		var status bootstrap.Status
		err := r.withSession(ctx, h, func(s bootstrap.Session) error {
			o := bootstrap.New(d.desc, r.ssh, r.progress, bootstrap.WithLogger(d.logger.With("target", h.Name)))
			status = o.EnsureHelper(ctx, s, n, bootstrap.WithTitle(h.Name), bootstrap.WithPresenterLogger(d.logger))
			return nil
		})
		if err != nil {
			d.logger.Warn("helper ensure failed", "target", h.Name, "error", err)
			bootstrap.ReportConnectFailure(n, err, bootstrap.WithTitle(h.Name), bootstrap.WithPresenterLogger(d.logger))
			return bootstrap.Status{Reason: err.Error()}
		}
		return status
	}
}

// runJobs runs jobs concurrently without a live view.
func runJobs(ctx context.Context, jobs []tui.Job, n bootstrap.Notifier) []tui.JobResult {
	results := make([]tui.JobResult, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = tui.JobResult{Name: j.Name, Status: j.Run(ctx, n)}
		}()
	}
	wg.Wait()
	return results
}

type targetStatus struct {
	Target string `json:"target"`
	bootstrap.Status
}

func jobStatuses(results []tui.JobResult) []targetStatus {
	out := make([]targetStatus, len(results))
	for i, r := range results {
		out[i] = targetStatus{Target: r.Name, Status: r.Status}
	}
	return out
}

var helperStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the helper without installing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		targets, err := resolveTargets(cmd, d)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := d.context(cmd.Context())
		defer cancel()

		r := newRemote(d)
		defer func() { _ = r.ssh.CloseAll() }()

		rows := make([]probeRow, len(targets))
		var wg sync.WaitGroup
		for i, t := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rows[i] = probeTarget(ctx, d, r, t)
			}()
		}
		wg.Wait()

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, rows)
		}
		md := statusMarkdown(d.desc.Version(), rows)
		if core.IsTerminal(out) {
			fmt.Fprint(out, tui.RenderMarkdown(md, 100))
			return nil
		}
		fmt.Fprint(out, md)
		return nil
	},
}

// probeRow is one line of helper status output.
type probeRow struct {
	Target  string `json:"target"`
	Path    string `json:"path,omitempty"`
	State   string `json:"state"`
	Version string `json:"version,omitempty"`
	Current bool   `json:"current"`
	Detail  string `json:"detail,omitempty"`
}

func probeTarget(ctx context.Context, d *deps, r *remote, t target) probeRow {
	row := probeRow{Target: t.name}

	var (
		res  bootstrap.ProbeResult
		path string
		err  error
	)
	if t.host == nil {
		res, path, err = d.local().Probe(ctx)
	} else {
		err = r.withSession(ctx, *t.host, func(s bootstrap.Session) error {
			var perr error
			res, path, perr = bootstrap.New(d.desc, r.ssh, nil).Probe(ctx, s)
			return perr
		})
	}
	if err != nil {
		row.State = "error"
		row.Detail = err.Error()
		return row
	}

	row.Path = path
	row.State = res.State.String()
	row.Version = res.Version
	row.Current = bootstrap.Decide(d.desc.Version(), res) == bootstrap.DecisionUpToDate
	if ferr := res.Failure(); ferr != nil {
		row.Detail = ferr.Error()
	}
	return row
}

func statusMarkdown(want string, rows []probeRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wanted helper version: `%s`\n\n", want)
	b.WriteString("| Target | State | Version | Current | Path |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range rows {
		current := "no"
		if r.Current {
			current = "yes"
		}
		version := r.Version
		if version == "" {
			version = "-"
		}
		path := r.Path
		if path == "" {
			path = r.Detail
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", r.Target, r.State, version, current, escapeCell(path))
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

var helperExecCmd = &cobra.Command{
	Use:   "exec [--host NAME] -- <command> [args...]",
	Short: "Run the installed helper",
	Long: `Run the installed helper with the given arguments, locally or on one
configured host. The helper's stdout and stderr are passed through and its
exit code becomes jaterm's.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		hostName, _ := cmd.Flags().GetString("host")

		ctx, cancel := d.context(cmd.Context())
		defer cancel()

		var res bootstrap.CommandResult
		if hostName == "" {
			res, err = d.local().Exec(ctx, args...)
		} else {
			res, err = execRemote(ctx, d, hostName, args)
		}
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		if res.ExitCode != 0 {
			return &exitCodeError{code: res.ExitCode}
		}
		return nil
	},
}

func execRemote(ctx context.Context, d *deps, hostName string, args []string) (bootstrap.CommandResult, error) {
	h, err := d.hosts.Find(hostName)
	if err != nil {
		return bootstrap.CommandResult{}, err
	}
	r := newRemote(d)
	var res bootstrap.CommandResult
	err = r.withSession(ctx, h, func(s bootstrap.Session) error {
		home, err := r.ssh.HomeDirectory(ctx, s)
		if err != nil {
			return err
		}
		line := bootstrap.ShellJoin(append([]string{d.desc.InstallPath(home)}, args...)...)
		res, err = r.ssh.RunCommand(ctx, s, line)
		return err
	})
	return res, err
}

var helperInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the helper that would be installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		info := struct {
			Name       string `json:"name"`
			Version    string `json:"version"`
			InstallDir string `json:"installDir"`
			Digest     string `json:"digest"`
			Size       int    `json:"size"`
		}{
			Name:       d.desc.Name(),
			Version:    d.desc.Version(),
			InstallDir: "~/" + d.desc.RelativeInstallDir(),
			Digest:     "blake3:" + d.desc.Digest(),
			Size:       d.desc.Size(),
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, info)
		}
		fmt.Fprintf(out, "Name:     %s\n", info.Name)
		fmt.Fprintf(out, "Version:  %s\n", info.Version)
		fmt.Fprintf(out, "Path:     %s/%s\n", info.InstallDir, info.Name)
		fmt.Fprintf(out, "Digest:   %s\n", info.Digest)
		fmt.Fprintf(out, "Size:     %d bytes\n", info.Size)
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	addTargetFlags(helperEnsureCmd)
	helperEnsureCmd.Flags().Bool("json", false, "Print results as JSON")

	addTargetFlags(helperStatusCmd)
	helperStatusCmd.Flags().Bool("json", false, "Print results as JSON")

	helperExecCmd.Flags().String("host", "", "Run on this configured host instead of locally")
	helperInfoCmd.Flags().Bool("json", false, "Print as JSON")

	helperCmd.AddCommand(helperEnsureCmd, helperStatusCmd, helperExecCmd, helperInfoCmd)
	rootCmd.AddCommand(helperCmd)
}
