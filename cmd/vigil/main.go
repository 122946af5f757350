// Command vigil watches a source tree, flags risky code as it is written,
// applies fixes and batches them into commits that wait for approval.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootDir    string
	configFile string
	logLevel   string
	jsonLogs   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Proactive code quality monitor",
	Long: `vigil watches a source tree and analyzes every change.

A fast pattern matcher checks each saved file against learned defect
patterns; larger or riskier changes are escalated to a language model.
Fixes can be applied by hand or automatically, and are grouped into
commits that wait for your approval.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(rootDir, configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("json-logs") {
			cfg.Log.JSON = jsonLogs
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.JSON)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads <root>/.vigil/config.yaml (or path) over the defaults. A
// relative root_path in the file is taken relative to root.
func loadConfig(root, path string) (*config.Config, error) {
	if path == "" {
		path = filepath.Join(root, config.StateDirName, "config.yaml")
	}
	c, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if !filepath.IsAbs(c.RootPath) {
		c.RootPath = filepath.Join(root, c.RootPath)
	}
	if c.StateDir != "" && !filepath.IsAbs(c.StateDir) {
		c.StateDir = filepath.Join(root, c.StateDir)
	}
	return c, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", ".", "Project root to operate on")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default <root>/.vigil/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
