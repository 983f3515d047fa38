package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphy/smart-context-mcp/internal/intent"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	Aliases: []string{"reindex"},
	Short:   "Index or reindex the project tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(engine *intent.Engine, _ *intent.Router) error {
			res, err := engine.Indexer.SyncAll(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("indexed %s files (%s chunks), skipped %s unchanged, removed %s\n",
				humanize.Comma(int64(res.FilesIndexed)),
				humanize.Comma(int64(res.ChunksCreated)),
				humanize.Comma(int64(res.FilesSkipped)),
				humanize.Comma(int64(res.FilesRemoved)))
			for _, e := range res.Errors {
				fmt.Printf("  skipped: %v\n", e)
			}
			return nil
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the most recent committed edit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(engine *intent.Engine, _ *intent.Router) error {
			res, err := engine.Coordinator.Undo(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("undid transaction %s (%d files)\n", res.TransactionID, len(res.Changes))
			return nil
		})
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Reapply the most recently undone edit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(engine *intent.Engine, _ *intent.Router) error {
			res, err := engine.Coordinator.Redo(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("redid transaction %s (%d files)\n", res.TransactionID, len(res.Changes))
			return nil
		})
	},
}
