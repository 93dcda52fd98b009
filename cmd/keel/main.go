// Package main is the entry point for the keel CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/northhollow/keel/internal/config"
	"github.com/northhollow/keel/internal/db"
)

var (
	cfg     *config.Config
	cfgPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Steady progress toward your goals",
		Long: `Keel keeps a personal goal state: it ingests email, calendar and
task-tracker signals on a schedule, maintains a reasoning-generated status
overview per goal, and continuously re-ranks your open tasks against your
goals, deadlines and wellbeing priorities.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(".keel", "config.yaml"), "path to the configuration file")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		triggerCmd(),
		intervalCmd(),
		rankingCmd(),
		goalCmd(),
		taskCmd(),
		docCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}).Level(lvl).With().Timestamp().Logger()
}

// openStore opens the configured database, creating its directory as needed
func openStore() (*db.Store, error) {
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}
