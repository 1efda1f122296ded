// Package commands implements the digstore CLI.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dignetwork/digstore-go"
	"github.com/dignetwork/digstore-go/config"
	"github.com/dignetwork/digstore-go/ledger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile  string
	dataDir  string
	storeHex string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "digstore",
	Short: "Versioned content-addressed store with Merkle proofs",
	Long: `digstore keeps keyed content in a local store directory, commits its state
as a history of Merkle roots and replicates stores between peers.

Use "digstore [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return initLogger(cfg)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data-dir>/config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding store directories")
	rootCmd.PersistentFlags().StringVarP(&storeHex, "store", "s", "", "store id (64 hex characters)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	for _, c := range storeCommands() {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(checkPeerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(passwdCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "digstore %s (commit: %s)\n", Version, Commit)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := configPath(cfg)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration already exists at %s", path)
		}
		if err := config.SaveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

// loadConfig reads the config file if there is one and applies the global
// flags on top.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		dir := dataDir
		if dir == "" {
			dir = config.DefaultDataDir()
		}
		path = config.ConfigPath(dir)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func configPath(cfg config.Config) string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath(cfg.DataDir)
}

func initLogger(cfg config.Config) error {
	if err := digstore.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	digstore.Logger = digstore.Logger.Output(f)
	return nil
}

// storeID parses the --store flag.
func storeID() (ledger.StoreID, error) {
	if storeHex == "" {
		return "", errors.New("--store is required")
	}
	return ledger.ParseStoreID(storeHex)
}

func openLedger() (*ledger.Ledger, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	id, err := storeID()
	if err != nil {
		return nil, cfg, err
	}
	l, err := ledger.Open(cfg.DataDir, id)
	return l, cfg, err
}
