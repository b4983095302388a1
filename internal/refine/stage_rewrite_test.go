package refine

import (
	"context"
	"strings"
	"testing"

	"revai/internal/model"
	"revai/internal/oracle"
)

type scriptedRewriteOracle struct {
	response string
	err      error
}

func (s *scriptedRewriteOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts oracle.Options) (oracle.Response, error) {
	if s.err != nil {
		return oracle.Response{}, s.err
	}
	return oracle.Response{Text: s.response}, nil
}
func (s *scriptedRewriteOracle) Ping(ctx context.Context) error { return nil }
func (s *scriptedRewriteOracle) Name() string                   { return "scripted" }

func TestRunCodeRewrite_AppliesRetypesAndRenamesBeforeCallingOracle(t *testing.T) {
	module := model.ModuleGroup{
		Functions: []model.FunctionUnit{
			{Name: "fn", Code: "int iVar1 = 0; { }", Variables: []string{"iVar1"}},
		},
	}
	state := model.NewRefinementState(module)
	state.ConfirmRename("iVar1", "width")

	client := &scriptedRewriteOracle{response: `{"rewritten_code": "int width = 0; { }", "transformations": ["renamed"]}`}

	if err := RunCodeRewrite(context.Background(), client, state); err != nil {
		t.Fatalf("RunCodeRewrite failed: %v", err)
	}
	if len(state.ConfirmedRewrites) != 1 {
		t.Fatalf("expected one rewrite, got %d", len(state.ConfirmedRewrites))
	}
	rw := state.ConfirmedRewrites[0]
	if !rw.IsValid || !strings.Contains(rw.RewrittenCode, "width") {
		t.Errorf("expected valid rewrite containing width, got %+v", rw)
	}
}

func TestRunCodeRewrite_BraceMismatchFallsBackWithWarning(t *testing.T) {
	module := model.ModuleGroup{
		Functions: []model.FunctionUnit{
			{Name: "fn", Code: "int iVar1 = 0; { }", Variables: []string{"iVar1"}},
		},
	}
	state := model.NewRefinementState(module)
	client := &scriptedRewriteOracle{response: `{"rewritten_code": "int iVar1 = 0; { { }"}`}

	if err := RunCodeRewrite(context.Background(), client, state); err != nil {
		t.Fatalf("RunCodeRewrite failed: %v", err)
	}
	rw := state.ConfirmedRewrites[0]
	if rw.IsValid {
		t.Error("expected rewrite to be rejected on brace mismatch")
	}
	if !strings.Contains(rw.RewrittenCode, "WARNING") {
		t.Errorf("expected fallback warning comment, got %q", rw.RewrittenCode)
	}
}

func TestRunCodeRewrite_SkipsOracleWhenOriginalUnbalanced(t *testing.T) {
	module := model.ModuleGroup{
		Functions: []model.FunctionUnit{
			{Name: "fn", Code: "int iVar1 = 0; {", Variables: []string{"iVar1"}},
		},
	}
	state := model.NewRefinementState(module)
	client := &scriptedRewriteOracle{response: `{"rewritten_code": "should not be used"}`}

	if err := RunCodeRewrite(context.Background(), client, state); err != nil {
		t.Fatalf("RunCodeRewrite failed: %v", err)
	}
	rw := state.ConfirmedRewrites[0]
	if rw.IsValid {
		t.Error("expected invalid rewrite when original code is unbalanced")
	}
	if strings.Contains(rw.RewrittenCode, "should not be used") {
		t.Error("expected oracle not to be consulted for unbalanced original code")
	}
}
