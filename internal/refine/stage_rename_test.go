package refine

import (
	"context"
	"testing"

	"revai/internal/guard"
	"revai/internal/maker"
	"revai/internal/model"
	"revai/internal/oracle"
)

type scriptedRenameOracle struct {
	response string
}

func (s *scriptedRenameOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts oracle.Options) (oracle.Response, error) {
	return oracle.Response{Text: s.response}, nil
}
func (s *scriptedRenameOracle) Ping(ctx context.Context) error { return nil }
func (s *scriptedRenameOracle) Name() string                   { return "scripted" }

// TestRunVariableRenaming_ScenarioOneSingleFunction reproduces the
// end-to-end single-function renaming scenario: iVar1/iVar2/iVar3 all
// converge to their descriptive names.
func TestRunVariableRenaming_ScenarioOneSingleFunction(t *testing.T) {
	module := model.ModuleGroup{
		ModuleName: "geometry",
		Functions: []model.FunctionUnit{
			{
				Name:      "computeArea",
				Code:      "int compute(int iVar1, int iVar2) { int iVar3 = iVar1 * iVar2; return iVar3; }",
				Variables: []string{"iVar1", "iVar2", "iVar3"},
			},
		},
	}
	state := model.NewRefinementState(module)

	responses := map[string]string{
		"iVar1": `{"iVar1":"width"}`,
		"iVar2": `{"iVar2":"height"}`,
		"iVar3": `{"iVar3":"area"}`,
	}
	client := &dispatchOracle{byVar: responses}
	voter := &maker.Voter{Client: client, Guard: guard.New(1000)}
	cfg, err := maker.NewConfig("m", 0.3, 0.95, 0.01, 1, 1000, 2)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if err := RunVariableRenaming(context.Background(), voter, cfg, state); err != nil {
		t.Fatalf("RunVariableRenaming failed: %v", err)
	}

	want := map[string]string{"iVar1": "width", "iVar2": "height", "iVar3": "area"}
	for k, v := range want {
		if state.ConfirmedRenames[k] != v {
			t.Errorf("expected %s -> %s, got %v", k, v, state.ConfirmedRenames)
		}
	}
}

func TestRunVariableRenaming_SkipsAlreadyConfirmed(t *testing.T) {
	module := model.ModuleGroup{
		Functions: []model.FunctionUnit{
			{Name: "fn", Code: "int iVar1;", Variables: []string{"iVar1"}},
		},
	}
	state := model.NewRefinementState(module)
	state.ConfirmRename("iVar1", "width")

	client := &dispatchOracle{byVar: map[string]string{"iVar1": `{"iVar1":"bogus"}`}}
	voter := &maker.Voter{Client: client, Guard: guard.New(1000)}
	cfg, _ := maker.NewConfig("m", 0.3, 0.95, 0.01, 1, 1000, 2)

	if err := RunVariableRenaming(context.Background(), voter, cfg, state); err != nil {
		t.Fatalf("RunVariableRenaming failed: %v", err)
	}
	if state.ConfirmedRenames["iVar1"] != "width" {
		t.Errorf("expected existing confirmation preserved, got %v", state.ConfirmedRenames)
	}
	if client.calls != 0 {
		t.Errorf("expected no oracle calls for already-confirmed variable, got %d", client.calls)
	}
}

// dispatchOracle returns the response keyed by whichever variable name
// appears in the user prompt, so multi-variable voting tests don't need to
// track call order.
type dispatchOracle struct {
	byVar map[string]string
	calls int
}

func (d *dispatchOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts oracle.Options) (oracle.Response, error) {
	d.calls++
	for _, key := range opts.RequiredKeys {
		if resp, ok := d.byVar[key]; ok {
			return oracle.Response{Text: resp}, nil
		}
	}
	return oracle.Response{Text: `{}`}, nil
}
func (d *dispatchOracle) Ping(ctx context.Context) error { return nil }
func (d *dispatchOracle) Name() string                   { return "dispatch" }
