package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mdsync/internal/credstore"
	"mdsync/internal/gitsync"
)

var gitCmd = &cobra.Command{
	Use:   "git",
	Short: "Sync vaults with a Git remote",
}

var gitCredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Store the access token and author identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		remove, _ := cmd.Flags().GetBool("clear")

		a, err := newApp(cmd.Context(), "SetGitCredentials")
		if err != nil {
			return err
		}
		defer a.Close()

		if remove {
			if err := a.ClearGitCredentials(); err != nil {
				return err
			}
			fmt.Println("Git credentials removed.")
			return nil
		}
		token, err := readSecret("Personal access token: ")
		if err != nil {
			return err
		}
		if err := a.SetGitCredentials(cmd.Context(), credstore.Credentials{Token: token, UserName: name, UserEmail: email}); err != nil {
			return err
		}
		c, err := a.GitCredentials()
		if err != nil {
			return err
		}
		fmt.Printf("Git credentials saved for %s\n", c.UserName)
		return nil
	},
}

var gitInitCmd = &cobra.Command{
	Use:   "init VAULT",
	Short: "Create a repository in a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitInit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GitInit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Initialized repository in %s\n", args[0])
		return nil
	},
}

var gitStatusCmd = &cobra.Command{
	Use:   "status VAULT",
	Short: "Show repository status and changed files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.GitStatus(args[0])
		if err != nil {
			return err
		}
		st := r.Status
		if !st.IsGitRepo {
			fmt.Printf("%s is not a git repository\n", r.Vault)
			return nil
		}
		fmt.Printf("Vault:    %s\n", r.Vault)
		fmt.Printf("Branch:   %s\n", st.CurrentBranch)
		if r.Remote != nil {
			fmt.Printf("Remote:   %s %s\n", r.Remote.Name, r.Remote.URL)
		} else {
			fmt.Println("Remote:   none")
		}
		fmt.Printf("Status:   %s\n", st.SyncStatus)
		if !r.HasCredentials {
			fmt.Println("No access token stored; run 'mdsync git credentials'")
		}
		if st.ErrorMessage != "" {
			fmt.Printf("Error:    %s\n", st.ErrorMessage)
		}
		if st.LastSyncTime != nil {
			fmt.Printf("Synced:   %s\n", st.LastSyncTime.Local().Format("2006-01-02 15:04:05"))
		}
		if st.HasUnpushedCommits {
			fmt.Println("Unpushed commits present")
		}
		if st.HasObsidianGit {
			fmt.Printf("Obsidian Git plugin detected (mode %s)\n", r.Settings.ObsidianGitMode)
		}
		for _, c := range r.Changes {
			fmt.Printf("  %-8s %s\n", c.Kind, c.Path)
		}
		return nil
	},
}

var gitCommitCmd = &cobra.Command{
	Use:   "commit VAULT",
	Short: "Commit all changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		a, err := newApp(cmd.Context(), "GitCommit")
		if err != nil {
			return err
		}
		defer a.Close()

		hash, err := a.GitCommit(cmd.Context(), args[0], message)
		if err != nil {
			return err
		}
		if hash == "" {
			fmt.Println("Nothing to commit.")
			return nil
		}
		fmt.Printf("Committed %s\n", shortHash(hash))
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// outcomeError turns a non-success result into a command error.
func outcomeError(outcome gitsync.Outcome, msg string, files []string) error {
	switch outcome {
	case gitsync.OutcomeSuccess:
		return nil
	case gitsync.OutcomeConflict:
		if len(files) > 0 {
			return fmt.Errorf("conflict: %s (%s)", msg, strings.Join(files, ", "))
		}
		return fmt.Errorf("conflict: %s", msg)
	default:
		return fmt.Errorf("failed: %s", msg)
	}
}

var gitPullCmd = &cobra.Command{
	Use:   "pull VAULT",
	Short: "Pull from the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitPull")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.GitPull(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := outcomeError(res.Outcome, res.Error, res.ConflictFiles); err != nil {
			return err
		}
		fmt.Printf("Pulled: %d file(s) updated\n", res.UpdatedFiles)
		return nil
	},
}

var gitPushCmd = &cobra.Command{
	Use:   "push VAULT",
	Short: "Push to the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitPush")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.GitPush(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := outcomeError(res.Outcome, res.Error, nil); err != nil {
			return err
		}
		fmt.Printf("Pushed %d commit(s)\n", res.CommitsPushed)
		return nil
	},
}

var gitSyncCmd = &cobra.Command{
	Use:   "sync VAULT",
	Short: "Pull, commit and push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitSync")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.GitSync(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := outcomeError(res.Outcome, res.Error, res.ConflictFiles); err != nil {
			return err
		}
		fmt.Printf("Synced: %d file(s) pulled, %d commit(s) pushed\n", res.PulledFiles, res.PushedCommits)
		if res.Commit != "" {
			fmt.Printf("Committed %s\n", shortHash(res.Commit))
		}
		return nil
	},
}

var gitCloneCmd = &cobra.Command{
	Use:   "clone VAULT URL",
	Short: "Clone a repository into an empty vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitClone")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GitClone(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Cloned %s into %s\n", args[1], args[0])
		return nil
	},
}

var gitRemoteCmd = &cobra.Command{
	Use:   "remote VAULT URL",
	Short: "Set the vault's remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		a, err := newApp(cmd.Context(), "GitSetRemote")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GitSetRemote(cmd.Context(), args[0], args[1], name); err != nil {
			return err
		}
		fmt.Printf("Remote set to %s\n", args[1])
		return nil
	},
}

var gitSetupCmd = &cobra.Command{
	Use:   "setup VAULT [URL]",
	Short: "Connect a vault to a GitHub repository",
	Long: `Connect a vault to a GitHub repository. Without a URL one is suggested
from the vault name. With --create a missing repository is created and the
vault is pushed to it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")
		public, _ := cmd.Flags().GetBool("public")
		url := ""
		if len(args) > 1 {
			url = args[1]
		}

		a, err := newApp(cmd.Context(), "GitSetup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.GitSetup(cmd.Context(), args[0], url, create, !public)
		if err != nil {
			return err
		}
		if err := outcomeError(res.Outcome, res.Error, nil); err != nil {
			return err
		}
		if res.Created {
			fmt.Printf("Created and pushed %s\n", res.URL)
		} else {
			fmt.Printf("Connected to %s\n", res.URL)
		}
		return nil
	},
}

var gitResetCmd = &cobra.Command{
	Use:   "reset VAULT",
	Short: "Delete the repository and forget the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GitReset")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GitReset(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Git state of %s reset\n", args[0])
		return nil
	},
}

var gitSettingsCmd = &cobra.Command{
	Use:   "settings VAULT",
	Short: "Change a vault's sync settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		a, err := newApp(cmd.Context(), "UpdateGitSettings")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.UpdateGitSettings(args[0], func(s *credstore.SyncSettings) {
			if flags.Changed("auto-sync") {
				s.AutoSyncEnabled, _ = flags.GetBool("auto-sync")
			}
			if flags.Changed("interval") {
				s.AutoSyncInterval, _ = flags.GetInt("interval")
			}
			if flags.Changed("pull-on-startup") {
				s.AutoPullOnStartup, _ = flags.GetBool("pull-on-startup")
			}
			if flags.Changed("style") {
				style, _ := flags.GetString("style")
				s.CommitMessageStyle = credstore.CommitMessageStyle(style)
			}
			if flags.Changed("template") {
				s.CommitMessageTemplate, _ = flags.GetString("template")
			}
			if flags.Changed("obsidian-git") {
				mode, _ := flags.GetString("obsidian-git")
				s.ObsidianGitMode = credstore.CoexistenceMode(mode)
			}
		})
		if err != nil {
			return err
		}
		fmt.Printf("auto-sync=%v interval=%dm pull-on-startup=%v style=%s template=%q obsidian-git=%s\n",
			s.AutoSyncEnabled, s.AutoSyncInterval, s.AutoPullOnStartup,
			s.CommitMessageStyle, s.CommitMessageTemplate, s.ObsidianGitMode)
		return nil
	},
}

func init() {
	gitCredentialsCmd.Flags().String("name", "", "Commit author name (default: account login)")
	gitCredentialsCmd.Flags().String("email", "", "Commit author email")
	gitCredentialsCmd.Flags().Bool("clear", false, "Remove stored credentials")
	gitCommitCmd.Flags().StringP("message", "m", "", "Commit message (default: generated)")
	gitRemoteCmd.Flags().String("name", gitsync.DefaultRemote, "Remote name")
	gitSetupCmd.Flags().Bool("create", false, "Create the repository when it does not exist")
	gitSetupCmd.Flags().Bool("public", false, "Create a public repository")

	gitSettingsCmd.Flags().Bool("auto-sync", false, "Sync automatically while the daemon runs")
	gitSettingsCmd.Flags().Int("interval", 5, "Auto-sync interval in minutes (1-60)")
	gitSettingsCmd.Flags().Bool("pull-on-startup", false, "Pull when the daemon starts")
	gitSettingsCmd.Flags().String("style", "smart", "Commit message style: smart, timestamp, custom or ai")
	gitSettingsCmd.Flags().String("template", "", "Template for the custom style ({{date}}, {{files}}, {{count}}, {{vault}})")
	gitSettingsCmd.Flags().String("obsidian-git", "auto", "Coexistence with the Obsidian Git plugin: auto, full or pull-only")

	for _, c := range []*cobra.Command{
		gitCredentialsCmd, gitInitCmd, gitStatusCmd, gitCommitCmd, gitPullCmd, gitPushCmd,
		gitSyncCmd, gitCloneCmd, gitRemoteCmd, gitSetupCmd, gitResetCmd, gitSettingsCmd,
	} {
		gitCmd.AddCommand(c)
	}
	rootCmd.AddCommand(gitCmd)
}
