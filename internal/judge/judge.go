// Package judge implements the compilation-based reward stage: invoking a
// build tool against the emitted project directory and attributing a
// scalar reward to the run trace. The build command is pluggable rather
// than hardcoded, since the emitted project's target language and build
// tool are configurable (see DESIGN.md).
package judge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"revai/internal/logging"
	"revai/internal/trace"
)

// DefaultTimeout is the bounded wall clock assigned to a judge build.
const DefaultTimeout = 60 * time.Second

// Verdict is the outcome of one build attempt.
type Verdict struct {
	Reward float64
	Output string
	Err    error
}

const (
	rewardSuccess     = 1.0
	rewardBuildFailed = -0.5
	rewardToolMissing = 0.0
)

// Evaluate runs buildCmd (e.g. "make") with buildArgs in projectDir under a
// bounded wall clock, returning +1.0 on success, -0.5 on build failure, and
// 0.0 if the tool is missing or the timeout elapses. The verdict is also
// written to sink as a Trace record with state "COMPILATION_PHASE".
func Evaluate(ctx context.Context, sink *trace.Sink, projectDir, buildCmd string, buildArgs []string, timeout time.Duration) Verdict {
	log := logging.Get(logging.CategoryJudge)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, buildCmd, buildArgs...)
	cmd.Dir = projectDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	var v Verdict
	switch {
	case err == nil:
		log.Info("build succeeded in %s", projectDir)
		v = Verdict{Reward: rewardSuccess, Output: out.String()}
	case ctx.Err() == context.DeadlineExceeded:
		log.Warn("build timed out after %s", timeout)
		v = Verdict{Reward: rewardToolMissing, Output: out.String(), Err: ctx.Err()}
	case isToolNotFound(err):
		log.Warn("build tool %q not found", buildCmd)
		v = Verdict{Reward: rewardToolMissing, Output: out.String(), Err: err}
	default:
		log.Warn("build failed: %v", err)
		v = Verdict{Reward: rewardBuildFailed, Output: out.String(), Err: err}
	}

	if sink != nil {
		metadata := map[string]interface{}{"build_cmd": buildCmd, "output_tail": tail(v.Output, 2000)}
		_ = sink.Append("COMPILATION_PHASE", "evaluate_build", v.Reward, nextStateLabel(v.Reward), metadata)
	}

	return v
}

func nextStateLabel(reward float64) string {
	switch reward {
	case rewardSuccess:
		return "BUILD_SUCCEEDED"
	case rewardBuildFailed:
		return "BUILD_FAILED"
	default:
		return "BUILD_SKIPPED"
	}
}

func isToolNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
