// Package refine implements the four-stage per-module pipeline that takes a
// clustered ModuleGroup from the librarian through type recovery, variable
// renaming, code rewrite, and emission. Stages run in strict order inside
// a single worker, one RefinementState per module, never shared across
// modules.
package refine

import (
	"context"
	"fmt"

	"revai/internal/logging"
	"revai/internal/maker"
	"revai/internal/model"
	"revai/internal/oracle"
	"revai/internal/secrets"
)

// ModuleResult is the output of running all four stages for one module.
type ModuleResult struct {
	State          *model.RefinementState
	SourceFile     string
	ManifestEntry  ManifestEntry
	SecretFindings secrets.Findings
}

// Run drives one module's RefinementState through Stage 1 (type recovery),
// Stage 2 (variable renaming), Stage 3 (code rewrite), and Stage 4
// (emission) in strict sequence — Stage 1 fully completes before Stage 2
// begins, and so on. typeClient and rewriteClient may be the same
// oracle.Client; they are separated only so callers can point rewriting at
// a different model/temperature policy without touching renaming's MAKER
// voter.
func Run(ctx context.Context, typeClient oracle.Client, voter *maker.Voter, makerCfg maker.Config, rewriteClient oracle.Client, module model.ModuleGroup, srcDir string) (ModuleResult, error) {
	log := logging.Get(logging.CategoryRefine)
	state := model.NewRefinementState(module)

	if err := RunTypeRecovery(ctx, typeClient, state); err != nil {
		return ModuleResult{}, fmt.Errorf("refine: type recovery for %s: %w", module.ModuleName, err)
	}
	state.Stage = model.StageRename

	if err := RunVariableRenaming(ctx, voter, makerCfg, state); err != nil {
		return ModuleResult{}, fmt.Errorf("refine: renaming for %s: %w", module.ModuleName, err)
	}
	state.Stage = model.StageRewrite

	if err := RunCodeRewrite(ctx, rewriteClient, state); err != nil {
		return ModuleResult{}, fmt.Errorf("refine: rewrite for %s: %w", module.ModuleName, err)
	}
	state.Stage = model.StageEmit

	findings := secrets.Inspect(module)

	filename, entry, err := EmitModule(state, srcDir, len(findings))
	if err != nil {
		return ModuleResult{}, fmt.Errorf("refine: emission for %s: %w", module.ModuleName, err)
	}

	log.Info("module %s refined: %d types, %d renames, %d rewrites, emitted %s",
		module.ModuleName, len(state.ConfirmedTypes), len(state.ConfirmedRenames), len(state.ConfirmedRewrites), filename)

	return ModuleResult{
		State:          state,
		SourceFile:     filename,
		ManifestEntry:  entry,
		SecretFindings: findings,
	}, nil
}
