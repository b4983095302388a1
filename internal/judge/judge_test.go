package judge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"revai/internal/trace"
)

func TestEvaluate_SuccessYieldsPositiveReward(t *testing.T) {
	dir := t.TempDir()
	v := Evaluate(context.Background(), nil, dir, "true", nil, time.Second)
	if v.Reward != rewardSuccess {
		t.Errorf("expected success reward, got %+v", v)
	}
}

func TestEvaluate_NonZeroExitYieldsBuildFailedReward(t *testing.T) {
	dir := t.TempDir()
	v := Evaluate(context.Background(), nil, dir, "false", nil, time.Second)
	if v.Reward != rewardBuildFailed {
		t.Errorf("expected build-failed reward, got %+v", v)
	}
}

func TestEvaluate_MissingToolYieldsZeroReward(t *testing.T) {
	dir := t.TempDir()
	v := Evaluate(context.Background(), nil, dir, "definitely-not-a-real-binary-xyz", nil, time.Second)
	if v.Reward != rewardToolMissing {
		t.Errorf("expected tool-missing reward, got %+v", v)
	}
}

func TestEvaluate_TimeoutYieldsZeroReward(t *testing.T) {
	dir := t.TempDir()
	v := Evaluate(context.Background(), nil, dir, "sleep", []string{"5"}, 10*time.Millisecond)
	if v.Reward != rewardToolMissing {
		t.Errorf("expected timeout reward of 0.0, got %+v", v)
	}
}

func TestEvaluate_WritesTraceRecord(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.jsonl")
	sink, err := trace.Open(tracePath, "run-1")
	if err != nil {
		t.Fatalf("trace.Open failed: %v", err)
	}
	defer sink.Close()

	Evaluate(context.Background(), sink, dir, "true", nil, time.Second)

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("expected trace file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected trace record written")
	}
}
