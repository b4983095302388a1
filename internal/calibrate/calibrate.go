// Package calibrate implements the calibration advisor: it single-shot
// samples the oracle over a small labeled set of functions to estimate the
// per-step success rate p, which feeds directly into the MAKER k
// calculation (Equation 14).
package calibrate

import (
	"context"
	"encoding/json"

	"revai/internal/guard"
	"revai/internal/logging"
	"revai/internal/model"
	"revai/internal/oracle"
)

// Sample is one labeled calibration input: a function and the set of
// variable names a correct response must draw from.
type Sample struct {
	Function model.FunctionUnit
}

// SampleResult records the per-sample outcome for transparency/debugging.
type SampleResult struct {
	FunctionName string
	Success      bool
	Reason       string
}

// Report is the outcome of one calibration pass.
type Report struct {
	SuccessRate float64 // p
	Feasible    bool    // p > 0.5
	TotalCount  int
	Results     []SampleResult
}

const defaultSystemPrompt = `You are an expert reverse engineer.
Your goal is to rename variables in the provided decompiled code to make it more readable.
Output ONLY a JSON object mapping old variable names to new, descriptive names.
Do not include any explanation or markdown formatting.`

// MeasureDifficulty single-shot samples the oracle once per sample,
// checking red flags and hallucination only (no ground truth exists for
// decompiled code, so "validity" stands in for "correctness", exactly as
// the Python calibrator does).
func MeasureDifficulty(ctx context.Context, client oracle.Client, samples []Sample, systemPrompt string, temperature float64) (Report, error) {
	log := logging.Get(logging.CategoryCalibrate)
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	g := guard.New(1000)

	report := Report{TotalCount: len(samples)}

	for i, s := range samples {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		existing := make(map[string]bool, len(s.Function.Variables))
		for _, v := range s.Function.Variables {
			existing[v] = true
		}

		prompt := "Function: " + s.Function.Name + "\nCode:\n" + s.Function.Code

		resp, err := client.Invoke(ctx, systemPrompt, prompt, oracle.Options{
			Temperature:      temperature,
			StructuredOutput: true,
		})
		if err != nil {
			log.Warn("calibration sample %d (%s) errored: %v", i, s.Function.Name, err)
			report.Results = append(report.Results, SampleResult{FunctionName: s.Function.Name, Success: false, Reason: err.Error()})
			continue
		}

		parsed, result := g.Check(resp.Text, nil, existing)
		success := result.Accepted
		reason := result.Reason
		if success {
			reason = "valid"
		}

		report.Results = append(report.Results, SampleResult{FunctionName: s.Function.Name, Success: success, Reason: reason})
		if success {
			report.SuccessRate += 1
			_ = parsed // the count is what matters; payload already validated by Check
		} else {
			log.Debug("calibration sample %d (%s) red-flagged: %s", i, s.Function.Name, reason)
		}
	}

	if report.TotalCount > 0 {
		report.SuccessRate = report.SuccessRate / float64(report.TotalCount)
	}
	report.Feasible = report.SuccessRate > 0.5

	log.Info("calibration complete: p=%.3f feasible=%v (%d/%d samples)", report.SuccessRate, report.Feasible, successes(report.Results), report.TotalCount)

	return report, nil
}

func successes(results []SampleResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

// ErrorRateFrom derives the MAKER estimated_error_rate (1-p) from a Report,
// clamped to the [0.01, 0.49] range the k calculation requires.
func ErrorRateFrom(report Report) float64 {
	rate := 1.0 - report.SuccessRate
	if rate < 0.01 {
		return 0.01
	}
	if rate > 0.49 {
		return 0.49
	}
	return rate
}

// MarshalSamplesFile decodes a JSON array of model.FunctionUnit from raw
// bytes into calibration Samples, the file format `revai calibrate
// --samples FILE` reads.
func MarshalSamplesFile(data []byte) ([]Sample, error) {
	var units []model.FunctionUnit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, err
	}
	samples := make([]Sample, len(units))
	for i, u := range units {
		samples[i] = Sample{Function: u}
	}
	return samples, nil
}
