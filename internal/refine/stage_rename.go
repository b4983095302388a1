package refine

import (
	"context"
	"fmt"

	"revai/internal/logging"
	"revai/internal/maker"
	"revai/internal/model"
)

const renameSystemPrompt = `You are an expert reverse engineer renaming one variable at a time in decompiled code.
Rename only the named variable to a descriptive name. If no good rename exists, return the
identity mapping (the variable mapped to itself).

Respond strictly as JSON mapping the variable's current name to its new name, e.g. {"iVar1": "width"}.`

// RunVariableRenaming implements Stage 2: one MAKER vote per variable per
// function, voting independently rather than batching a module's
// variables into one call. Winning renames accumulate into
// ConfirmedRenames; identity entries are dropped by the guard before the
// vote is ever counted.
func RunVariableRenaming(ctx context.Context, voter *maker.Voter, cfg maker.Config, state *model.RefinementState) error {
	log := logging.Get(logging.CategoryRefine)

	existing := make(map[string]bool)
	for _, v := range state.Module.AllVariables() {
		existing[v] = true
	}

	for _, fn := range state.Module.Functions {
		for _, variable := range fn.Variables {
			if _, already := state.ConfirmedRenames[variable]; already {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			perVarCfg := cfg
			perVarCfg.TotalSteps = len(fn.Variables)
			if perVarCfg.KOverride == 0 {
				k, err := maker.NewConfig(cfg.Model, cfg.Temperature, cfg.TargetReliability, cfg.EstimatedErrorRate, perVarCfg.TotalSteps, cfg.MaxOutputTokens, 0)
				if err != nil {
					return fmt.Errorf("refine: rename voting infeasible for %s: %w", variable, err)
				}
				perVarCfg = k
			}

			userPrompt := fmt.Sprintf("Function: %s\nVariable to rename: %s\nCode:\n%s", fn.Name, variable, fn.Code)

			outcome, err := voter.Vote(ctx, perVarCfg, renameSystemPrompt, userPrompt, []string{variable}, existing)
			if err != nil {
				return err
			}
			if outcome.Unconverged {
				log.Warn("rename voting for %s.%s did not converge after %d samples", fn.Name, variable, outcome.TotalSamples)
			}
			if outcome.Winner == nil {
				continue
			}
			if newName, ok := outcome.Winner[variable]; ok {
				state.ConfirmRename(variable, newName)
			}
		}
	}

	log.Info("renaming for %s: %d confirmed renames", state.Module.ModuleName, len(state.ConfirmedRenames))
	return nil
}
