package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaterm/jaterm/internal/core"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage SSH hosts the helper is bootstrapped on",
}

var hostAddCmd = &cobra.Command{
	Use:   "add <name> <address>",
	Short: "Add an SSH host",
	Long: `Add an SSH host by name. The address is host or host:port; port 22 is
assumed when missing. Authentication uses the ssh-agent and, when given, an
unencrypted identity file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		user, _ := cmd.Flags().GetString("user")
		identity, _ := cmd.Flags().GetString("identity-file")
		knownHosts, _ := cmd.Flags().GetString("known-hosts")
		insecure, _ := cmd.Flags().GetBool("insecure-ignore-host-key")

		h, err := d.hosts.Add(core.Host{
			Name:                  args[0],
			Address:               args[1],
			User:                  user,
			IdentityFile:          identity,
			KnownHostsFile:        knownHosts,
			InsecureIgnoreHostKey: insecure,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added host %s (%s)\n", h.Name, h.Address)
		return nil
	},
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		hosts, err := d.hosts.List()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(hosts) == 0 {
			fmt.Fprintln(out, "No hosts configured. Use 'jaterm host add' to add one.")
			return nil
		}

		fmt.Fprintf(out, "Hosts (%d):\n", len(hosts))
		for _, h := range hosts {
			target := h.Address
			if h.User != "" {
				target = h.User + "@" + h.Address
			}
			fmt.Fprintf(out, "  %-16s %s\n", h.Name, target)
		}
		return nil
	},
}

var hostRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a configured host",
	Long:  `Remove a host from the configuration. Nothing on the host is touched.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.hosts.Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed host %s\n", args[0])
		return nil
	},
}

func init() {
	hostAddCmd.Flags().String("user", "", "SSH user")
	hostAddCmd.Flags().String("identity-file", "", "Private key file used after the ssh-agent")
	hostAddCmd.Flags().String("known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	hostAddCmd.Flags().Bool("insecure-ignore-host-key", false, "Skip host key verification")

	hostCmd.AddCommand(hostAddCmd, hostListCmd, hostRemoveCmd)
	rootCmd.AddCommand(hostCmd)
}
