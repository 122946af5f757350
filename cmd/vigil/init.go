package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/storage"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .vigil state directory and pattern store",
	Long: `Initialize vigil for a project by creating a .vigil/ directory.

This creates:
  - .vigil/config.yaml (defaults, edit to taste)
  - .vigil/patterns.db (SQLite pattern store seeded with built-in patterns)

Example:
  cd ~/myproject
  vigil init
  vigil init --force     # rewrite config.yaml with defaults`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		stateDir := cfg.StatePath("")
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", stateDir, err)
		}

		configPath := configFile
		if configPath == "" {
			configPath = filepath.Join(stateDir, "config.yaml")
		}
		wroteConfig := false
		if _, err := os.Stat(configPath); os.IsNotExist(err) || initForce {
			out := config.Default()
			out.Inference.APIKey = "" // keys come from the environment
			if err := out.Save(configPath); err != nil {
				return err
			}
			wroteConfig = true
		}

		store, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize pattern store: %w", err)
		}
		defer func() { _ = store.Close() }()
		added, err := storage.Seed(ctx, store)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized vigil\n\n", green("✓"))
		if wroteConfig {
			fmt.Printf("  Config:   %s\n", cyan(configPath))
		} else {
			fmt.Printf("  Config:   %s %s\n", cyan(configPath), gray("(kept existing)"))
		}
		fmt.Printf("  Patterns: %s %s\n", cyan(cfg.DBPath()), gray(fmt.Sprintf("(%d built-in added)", added)))
		fmt.Printf("  Root:     %s\n", cyan(cfg.RootPath))
		fmt.Println()
		fmt.Println("Add .vigil/ to your .gitignore, then run 'vigil watch'.")
		fmt.Println()
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}
