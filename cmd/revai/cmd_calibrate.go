package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"revai/internal/calibrate"
	"revai/internal/config"
	"revai/internal/oracle"
)

var (
	calibrateSamples string
	calibrateModel   string
)

// calibrateCmd runs the difficulty measurement standalone, letting an
// operator estimate the per-step error rate for a model before committing
// it to a full run.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure oracle reliability on a labeled sample set",
	RunE:  runCalibrate,
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateSamples, "samples", "", "Path to a JSON array of labeled function units (required)")
	calibrateCmd.Flags().StringVar(&calibrateModel, "model", "", "Oracle model name to calibrate (defaults to the configured model)")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if calibrateSamples == "" {
		return fmt.Errorf("%w: --samples is required", errInvalidArgs)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	model := calibrateModel
	if model == "" {
		model = cfg.OracleModel
	}

	data, err := os.ReadFile(calibrateSamples)
	if err != nil {
		return fmt.Errorf("%w: read samples file: %v", errInvalidArgs, err)
	}
	samples, err := calibrate.MarshalSamplesFile(data)
	if err != nil {
		return fmt.Errorf("%w: parse samples file: %v", errInvalidArgs, err)
	}

	oracleClient, err := oracle.New(ctx, cfg.OracleEndpointURL, model,
		cfg.CredentialFor("gemini"), cfg.CredentialFor("http"), cfg.OracleTimeout)
	if err != nil {
		return err
	}

	report, err := calibrate.MeasureDifficulty(ctx, oracleClient, samples, "", 0.3)
	if err != nil {
		return err
	}

	fmt.Printf("p=%.3f feasible=%v (%d/%d samples succeeded)\n",
		report.SuccessRate, report.Feasible, len(report.Results), report.TotalCount)
	return nil
}
