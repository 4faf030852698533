// Package cli implements the accessmind CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "accessmind",
	Short: "Adaptive access control for personal data vaults",
	Long: "Records data-access interactions, mines them for patterns and decides, negotiates " +
		"and explains access requests. State is journaled to SQLite between invocations.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Journal path (default: $ACCESSMIND_DB or ~/.accessmind/journal.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config path (default: ~/.accessmind/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	RootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if formatFlag != "json" && formatFlag != "text" {
			return fmt.Errorf("unknown format %q (use json or text)", formatFlag)
		}
		return nil
	}
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("ACCESSMIND_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".accessmind", "journal.db")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// printResult writes v as indented JSON, or as YAML with --format text.
func printResult(v any) {
	if formatFlag == "text" {
		b, err := yaml.Marshal(v)
		if err != nil {
			exitErr("render", err)
		}
		fmt.Print(string(b))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
