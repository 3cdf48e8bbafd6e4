package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mdsync/internal/cloudsync"
)

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Sync open tabs with cloud storage",
}

func printTime(label string, t *time.Time) {
	if t == nil {
		return
	}
	fmt.Printf("%-14s %s\n", label, t.Local().Format("2006-01-02 15:04:05"))
}

func cloudError(outcome cloudsync.Outcome, msg string, conflictAt *time.Time) error {
	switch outcome {
	case cloudsync.OutcomeSuccess, cloudsync.OutcomeNoData:
		return nil
	case cloudsync.OutcomeConflict:
		if conflictAt != nil {
			return fmt.Errorf("cloud document changed at %s; use 'cloud sync --force' or 'cloud load --resolve'",
				conflictAt.Local().Format("2006-01-02 15:04:05"))
		}
		return fmt.Errorf("cloud document is newer; use 'cloud sync --force' or 'cloud load --resolve'")
	case cloudsync.OutcomePaused:
		return fmt.Errorf("sync is paused by an unresolved conflict")
	default:
		return fmt.Errorf("cloud operation failed: %s", msg)
	}
}

var cloudAuthURLCmd = &cobra.Command{
	Use:   "auth-url",
	Short: "Print the sign-in URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudAuthURL")
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.CloudAuthURL()
		if err != nil {
			return err
		}
		fmt.Println("Open this URL and pass the redirect URL to 'mdsync cloud callback':")
		fmt.Println(u)
		return nil
	},
}

var cloudCallbackCmd = &cobra.Command{
	Use:   "callback REDIRECT_URL",
	Short: "Complete sign-in with the redirect URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudCallback")
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.CloudCallback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if user != nil {
			fmt.Printf("Signed in as %s <%s>\n", user.Name, user.Email)
		} else {
			fmt.Println("Signed in.")
		}
		return nil
	},
}

var cloudClientIDCmd = &cobra.Command{
	Use:   "client-id ID",
	Short: "Set the OAuth client id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudSetClientID")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudSetClientID(args[0])
	},
}

var cloudStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sign-in and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.CloudStatus(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case st.Connected && st.User != nil:
			fmt.Printf("%-14s %s <%s>\n", "Signed in:", st.User.Name, st.User.Email)
		case st.Connected:
			fmt.Printf("%-14s yes\n", "Signed in:")
		case st.NeedsReauthorization:
			fmt.Printf("%-14s session expired, run 'mdsync cloud auth-url'\n", "Signed in:")
		default:
			fmt.Printf("%-14s no\n", "Signed in:")
		}
		fmt.Printf("%-14s %v\n", "Sync file:", st.HasSyncFile)
		printTime("Token expiry:", st.TokenExpiry)
		printTime("Last sync:", st.LastSyncTime)
		printTime("Cloud changed:", st.LastCloudModified)
		if st.HasConflict {
			fmt.Println("Conflict pending.")
			printTime("Conflict at:", st.ConflictCloudTime)
		}
		if st.AutoSyncPaused {
			fmt.Println("Auto-sync paused.")
		}
		return nil
	},
}

var cloudSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload the tab document",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), "CloudSync")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.CloudSync(cmd.Context(), force)
		if err != nil {
			return err
		}
		if err := cloudError(res.Outcome, res.Error, res.ConflictCloudTime); err != nil {
			return err
		}
		fmt.Printf("Uploaded at %s\n", res.ModifiedTime.Local().Format("2006-01-02 15:04:05"))
		if res.Migrated {
			fmt.Println("Moved the legacy sync file into the app folder.")
		}
		if res.Backup != "" {
			fmt.Printf("Backup %s created\n", res.Backup)
		}
		if res.BackupsDeleted > 0 {
			fmt.Printf("%d old backup(s) deleted\n", res.BackupsDeleted)
		}
		return nil
	},
}

var cloudLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Replace local tabs with the cloud document",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolve, _ := cmd.Flags().GetBool("resolve")

		a, err := newApp(cmd.Context(), "CloudLoad")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.CloudLoad(cmd.Context(), resolve)
		if err != nil {
			return err
		}
		if res.Outcome == cloudsync.OutcomeNoData {
			fmt.Println("No cloud document yet.")
			return nil
		}
		if err := cloudError(res.Outcome, res.Error, nil); err != nil {
			return err
		}
		fmt.Printf("Loaded %d tab(s)\n", len(a.Tabs()))
		return nil
	},
}

var cloudCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether the cloud document changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudCheck")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.CloudCheck(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(st)
		return nil
	},
}

var cloudBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the cloud document now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.CloudBackup(cmd.Context())
		if err != nil {
			return err
		}
		if res.Outcome == cloudsync.OutcomeNoData {
			fmt.Println("No cloud document to back up.")
			return nil
		}
		if err := cloudError(res.Outcome, res.Error, res.ConflictCloudTime); err != nil {
			return err
		}
		fmt.Printf("Backup %s created\n", res.Name)
		return nil
	},
}

var cloudBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudBackups")
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.CloudBackups(cmd.Context())
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		for _, b := range backups {
			fmt.Printf("%s\t%s\t%s\n", b.ID, b.Date, b.Name)
		}
		return nil
	},
}

var cloudCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete daily backups past the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudCleanupBackups")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.CloudCleanupBackups(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d backup(s) deleted\n", n)
		return nil
	},
}

var cloudRestoreCmd = &cobra.Command{
	Use:   "restore BACKUP_ID",
	Short: "Replace local tabs with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudRestore")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CloudRestore(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Restored %d tab(s); run 'mdsync cloud sync' to upload them\n", len(a.Tabs()))
		return nil
	},
}

var cloudSignOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Forget the cloud session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudSignOut")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudSignOut()
	},
}

var cloudClearConflictCmd = &cobra.Command{
	Use:   "clear-conflict",
	Short: "Clear the conflict flag without resolving it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudClearConflict")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudClearConflict()
	},
}

var cloudClearFileCmd = &cobra.Command{
	Use:   "clear-file",
	Short: "Forget the remote file reference",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloudClearSyncFile")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudClearSyncFile()
	},
}

func init() {
	cloudSyncCmd.Flags().Bool("force", false, "Overwrite a newer cloud document")
	cloudLoadCmd.Flags().Bool("resolve", false, "Resolve a conflict in favor of the cloud document")

	for _, c := range []*cobra.Command{
		cloudAuthURLCmd, cloudCallbackCmd, cloudClientIDCmd, cloudStatusCmd, cloudSyncCmd,
		cloudLoadCmd, cloudCheckCmd, cloudBackupCmd, cloudBackupsCmd, cloudCleanupCmd,
		cloudRestoreCmd, cloudSignOutCmd, cloudClearConflictCmd, cloudClearFileCmd,
	} {
		cloudCmd.AddCommand(c)
	}
	rootCmd.AddCommand(cloudCmd)
}
