package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "crisisflow",
	Short: "Incident rooms with live chat and task tracking",
	Long: `crisisflow serves multi-room incident chat over websockets together with a
task tracker. Settings come from an optional TOML file and CRISISFLOW_*
environment variables, e.g. CRISISFLOW_AUTH_JWT_SECRET.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (TOML)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func newLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
