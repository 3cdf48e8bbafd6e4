package main

import (
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run automatic sync in the foreground",
	Long: `Run automatic sync until interrupted. Vaults with auto-pull on startup
are pulled first. Then every minute the tab document is synced to the cloud
and each git vault whose interval elapsed is synced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Daemon")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RunDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
