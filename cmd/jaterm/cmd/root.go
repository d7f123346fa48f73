package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "jaterm",
	Short: "Bootstrap the jaterm helper on local and remote hosts",
	Long: `jaterm keeps a small helper program installed, executable and healthy
on every host it talks to.

The helper is detected with a health probe, installed or replaced when its
version differs, and verified again after install. Hosts are reached over SSH;
the local machine is handled directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jaterm %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("manifest", "", "Helper manifest (YAML) overriding the built-in helper")
	pf.String("log-level", "warn", "Log level: debug, info, warn or error")
	pf.String("log-file", "", "Also write JSON logs to this file")
	pf.Duration("timeout", 0, "Deadline for the whole command (e.g. 30s); 0 means none")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// exitCodeError carries a process exit code without an extra message.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// ExitCode returns the process exit code for an error returned by Execute,
// and whether the error should still be printed.
func ExitCode(err error) (code int, report bool) {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code, false
	}
	return 1, true
}
