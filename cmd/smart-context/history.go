package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphy/smart-context-mcp/internal/intent"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent committed edit transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(_ *intent.Engine, router *intent.Router) error {
			entries, err := router.History(context.Background(), 20)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no committed transactions")
				return nil
			}
			for _, e := range entries {
				when := ""
				if e.CommittedAt > 0 {
					when = time.UnixMilli(e.CommittedAt).Format(time.RFC3339)
				}
				fmt.Printf("%s  %s  %s\n", e.ID, e.State, when)
			}
			return nil
		})
	},
}
