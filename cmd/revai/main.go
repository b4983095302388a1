// Package main implements the revai CLI: an automated reverse-engineering
// pipeline driver. Entry point and command registration, with a cobra
// root command, PersistentPreRunE logging setup, and an exit-code mapping
// specific to revai's own failure modes.
//
// # File Index
//
//   - main.go       - entry point, rootCmd, global flags, exit-code mapping
//   - cmd_run.go    - `revai run`
//   - cmd_doctor.go - `revai doctor`
//   - cmd_calibrate.go - `revai calibrate`
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"revai/internal/decompiler"
	"revai/internal/logging"
	"revai/internal/maker"
	"revai/internal/oracle"
	"revai/internal/pipeline"
)

var (
	verbose    bool
	configPath string
	logger     *zap.Logger
)

// Exit codes returned to the shell, one per distinct run outcome.
const (
	exitSuccess        = 0
	exitOther          = 1
	exitInvalidArgs    = 2
	exitDecompilerFail = 3
	exitOracleUnreach  = 4
	exitCancelled      = 5
)

var rootCmd = &cobra.Command{
	Use:   "revai",
	Short: "Automated binary-reverse-engineering pipeline",
	Long: `revai decompiles a target binary, clusters its functions into modules,
and refines each module's naming and types through an LLM oracle reliability
layer before emitting buildable source and a build-quality reward.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the JSON configuration file")

	rootCmd.AddCommand(runCmd, doctorCmd, calibrateCmd)
}

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitSuccess
	}
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	fmt.Fprintln(os.Stderr, "revai:", err)
	switch {
	case errors.Is(err, errInvalidArgs):
		return exitInvalidArgs
	case errors.Is(err, decompiler.ErrDecompilerFailed), errors.Is(err, decompiler.ErrDecompilerOutputMissing):
		return exitDecompilerFail
	case errors.Is(err, oracle.ErrOracleUnavailable), errors.Is(err, oracle.ErrOracleTimeout), errors.Is(err, maker.ErrVotingInfeasible):
		return exitOracleUnreach
	case errors.Is(err, pipeline.ErrCancelled):
		return exitCancelled
	default:
		return exitOther
	}
}

var errInvalidArgs = errors.New("invalid arguments")
