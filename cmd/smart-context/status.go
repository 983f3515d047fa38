package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphy/smart-context-mcp/internal/intent"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, history, and usage state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(engine *intent.Engine, router *intent.Router) error {
			report, err := router.Status(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("project:  %s\n", report.Root)
			fmt.Printf("files:    %s\n", humanize.Comma(int64(report.Files)))
			fmt.Printf("chunks:   %s\n", humanize.Comma(int64(report.Chunks)))
			fmt.Printf("symbols:  %s\n", humanize.Comma(int64(report.Symbols)))
			fmt.Printf("vectors:  %s (enabled: %v)\n", humanize.Comma(int64(report.Embeddings)), report.VectorsEnabled)
			fmt.Printf("packs:    %s\n", humanize.Comma(int64(report.Packs)))
			fmt.Printf("history:  %d undo / %d redo, %s transactions logged\n",
				report.UndoDepth, report.RedoDepth, humanize.Comma(int64(report.Transactions)))

			if info, err := os.Stat(engine.Config.IndexDBPath(engine.Root)); err == nil {
				fmt.Printf("store:    %s\n", humanize.Bytes(uint64(info.Size())))
			}

			if report.Usage != nil {
				fmt.Printf("usage (24h): %v searches, %v cache hits, %v edits\n",
					report.Usage["total_searches"], report.Usage["cache_hits"], report.Usage["total_edits"])
			}
			return nil
		})
	},
}
