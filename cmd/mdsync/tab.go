package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var tabCmd = &cobra.Command{
	Use:   "tab",
	Short: "Manage open editor tabs",
}

var tabListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tabs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListTabs")
		if err != nil {
			return err
		}
		defer a.Close()

		for _, info := range a.Tabs() {
			mark := " "
			if info.Active {
				mark = "*"
			}
			fmt.Printf("%s %s\t%s", mark, info.Tab.ID, info.Tab.Name)
			if info.Bound {
				fmt.Printf("\t%s", info.Location)
			}
			fmt.Println()
		}
		return nil
	},
}

var tabOpenCmd = &cobra.Command{
	Use:   "open VAULT PATH",
	Short: "Open a vault file in a tab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "OpenNote")
		if err != nil {
			return err
		}
		defer a.Close()

		id, created, err := a.OpenNote(args[0], args[1])
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Opened %s in tab %s\n", args[1], id)
		} else {
			fmt.Printf("%s is already open in tab %s\n", args[1], id)
		}
		return nil
	},
}

var tabNewCmd = &cobra.Command{
	Use:   "new [NAME]",
	Short: "Open an empty tab",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}
		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		a, err := newApp(cmd.Context(), "NewTab")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.NewTab(name, content)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var tabActivateCmd = &cobra.Command{
	Use:   "activate ID",
	Short: "Make a tab active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ActivateTab")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.ActivateTab(args[0])
	},
}

var tabEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Replace a tab's content and save it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "EditTab")
		if err != nil {
			return err
		}
		defer a.Close()

		wrote, err := a.EditTab(args[0], content)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Println("Saved to file.")
		}
		return nil
	},
}

var tabSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the active tab to its file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SaveActiveTab")
		if err != nil {
			return err
		}
		defer a.Close()

		wrote, err := a.SaveActiveTab()
		if err != nil {
			return err
		}
		if !wrote {
			fmt.Println("Active tab is not linked to a file.")
		}
		return nil
	},
}

var tabRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a tab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RenameTab")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.RenameTab(args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tab %s not renamed: unknown id or empty name", args[0])
		}
		return nil
	},
}

var tabCloseCmd = &cobra.Command{
	Use:   "close ID",
	Short: "Close a tab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CloseTab")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloseTab(args[0])
	},
}

var tabCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "List tabs whose files changed outside the editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CheckTabs")
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.CheckTabs()
		if err != nil {
			return err
		}
		for _, c := range changes {
			fmt.Printf("%s\t%s\tmodified %s\n", c.TabID, c.Location, c.DiskTime.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var tabReloadCmd = &cobra.Command{
	Use:   "reload ID",
	Short: "Replace a tab's content with its file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReloadTab")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.ReloadTab(args[0])
	},
}

var tabFontSizeCmd = &cobra.Command{
	Use:   "font-size SIZE",
	Short: "Set the editor font size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid size %q", args[0])
		}

		a, err := newApp(cmd.Context(), "SetFontSize")
		if err != nil {
			return err
		}
		defer a.Close()

		got, err := a.SetFontSize(size)
		if err != nil {
			return err
		}
		fmt.Printf("Font size %d\n", got)
		return nil
	},
}

func init() {
	tabNewCmd.Flags().String("content", "", "Initial content, or - for stdin")
	tabEditCmd.Flags().String("content", "", "New content, or - for stdin")

	for _, c := range []*cobra.Command{
		tabListCmd, tabOpenCmd, tabNewCmd, tabActivateCmd, tabEditCmd, tabSaveCmd,
		tabRenameCmd, tabCloseCmd, tabCheckCmd, tabReloadCmd, tabFontSizeCmd,
	} {
		tabCmd.AddCommand(c)
	}
	rootCmd.AddCommand(tabCmd)
}
