package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mdsync/internal/app"
	"mdsync/internal/registry"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vault directories",
}

var vaultAddCmd = &cobra.Command{
	Use:   "add [PATH]",
	Short: "Open a directory as a vault",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "AddVault")
		if err != nil {
			return err
		}
		defer a.Close()

		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		v, err := a.AddVault(target)
		if err != nil {
			if app.IsPermissionError(err) {
				return fmt.Errorf("no access to %s: %w", target, err)
			}
			return err
		}
		fmt.Printf("Added vault %s (%s)\n", v.Name, v.ID)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"reconnect"},
	Short:   "Reconnect and list vaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListVaults")
		if err != nil {
			return err
		}
		defer a.Close()

		vaults, err := a.ListVaults()
		if err != nil {
			return err
		}
		if len(vaults) == 0 {
			fmt.Println("No vaults.")
			return nil
		}
		for _, v := range vaults {
			state := "connected"
			if !v.Connected {
				state = "needs permission (" + string(v.Permission) + ")"
				if v.Error != "" {
					state = "unavailable: " + v.Error
				}
			}
			fmt.Printf("%s  %-20s  %s  %s\n", v.ID, v.Name, state, v.Locator)
		}
		return nil
	},
}

var vaultGrantCmd = &cobra.Command{
	Use:   "grant VAULT",
	Short: "Request access to a vault again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GrantVault")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.GrantVault(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Vault %s connected\n", v.Name)
		return nil
	},
}

var vaultRemoveCmd = &cobra.Command{
	Use:   "remove VAULT",
	Short: "Forget a vault (files are left untouched)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RemoveVault")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveVault(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed vault %s\n", args[0])
		return nil
	},
}

var vaultTreeCmd = &cobra.Command{
	Use:   "tree VAULT",
	Short: "Show the markdown files of a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "VaultTree")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.VaultTree(args[0])
		if err != nil {
			return err
		}
		fmt.Println(v.Name)
		printTree(v.Entries, 1)
		return nil
	},
}

func printTree(entries []*registry.Entry, depth int) {
	for _, e := range entries {
		name := e.Name
		if e.IsDir() {
			name += "/"
		}
		fmt.Printf("%s%s\n", strings.Repeat("  ", depth), name)
		printTree(e.Children, depth+1)
	}
}

var vaultNewCmd = &cobra.Command{
	Use:   "new VAULT NAME",
	Short: "Create a markdown file in a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "CreateNote")
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.CreateNote(args[0], dir, args[1], content)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Created %s\n", e.Path)
		return nil
	},
}

func init() {
	vaultNewCmd.Flags().String("dir", "", "Directory inside the vault")
	vaultNewCmd.Flags().String("content", "", "Initial content, or - for stdin")

	vaultCmd.AddCommand(vaultAddCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultGrantCmd)
	vaultCmd.AddCommand(vaultRemoveCmd)
	vaultCmd.AddCommand(vaultTreeCmd)
	vaultCmd.AddCommand(vaultNewCmd)
	rootCmd.AddCommand(vaultCmd)
}
