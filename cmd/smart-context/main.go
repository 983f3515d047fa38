// cmd/smart-context/main.go
//
// Administrative CLI: the same engine manage_project dispatches to, without
// the MCP transport in between.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/intent"
)

var rootCmd = &cobra.Command{
	Use:   "smart-context",
	Short: "Administer a smart-context project index",
}

var projectRoot string

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", "", "Project root (defaults to the working directory)")
	rootCmd.AddCommand(indexCmd, statusCmd, historyCmd, undoCmd, redoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withEngine builds the engine for the chosen root, runs fn, and closes it.
func withEngine(fn func(*intent.Engine, *intent.Router) error) error {
	root := projectRoot
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(filepath.Join(root, ".smart-context", "config.yaml"))
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := intent.NewEngine(root, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	return fn(engine, intent.NewRouter(engine))
}
