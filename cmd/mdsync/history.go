package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, _ := cmd.Flags().GetString("vault")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(vault, limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No sync operations recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tVAULT\tSTARTED\tSTATUS\tDURATION\tMESSAGE")
		for _, op := range ops {
			vaultID := op.VaultID
			if vaultID == "" {
				vaultID = "-"
			}
			duration := "-"
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				op.ID, op.Kind, vaultID, op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status, duration, op.Message)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().String("vault", "", "Only show operations of this vault (id or name)")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of operations")
	rootCmd.AddCommand(historyCmd)
}
