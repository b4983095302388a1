package refine

import (
	"context"
	"encoding/json"
	"strings"

	"revai/internal/logging"
	"revai/internal/model"
	"revai/internal/oracle"
)

const rewriteSystemPrompt = `You are an expert reverse engineer producing clean, readable source from a
pre-substituted decompiled function. The variable names and types have already been applied.
Improve control flow and structure only; do not introduce new variable names.

Respond strictly as JSON: {"rewritten_code": "...", "transformations": ["..."]}`

type rewriteResponse struct {
	RewrittenCode   string   `json:"rewritten_code"`
	Transformations []string `json:"transformations"`
}

// RunCodeRewrite implements Stage 3: apply confirmed types and renames via
// the identifier-safe substitution engine, then ask the oracle to
// restructure the pre-substituted code, validating the result by
// paired-brace count. A rejected rewrite keeps the pre-substituted code
// with a prepended warning comment, recovering per function rather than
// failing the whole module.
func RunCodeRewrite(ctx context.Context, client oracle.Client, state *model.RefinementState) error {
	log := logging.Get(logging.CategoryRefine)

	for _, fn := range state.Module.Functions {
		tokens := Tokenize(fn.Code)

		retyped, warnings := ApplyRetypes(tokens, state.ConfirmedTypes)
		for _, w := range warnings {
			log.Warn("%s: %s", fn.Name, w)
		}
		renamed := RenameIdentifiers(retyped, state.ConfirmedRenames)
		substituted := Join(renamed)

		openCount, closeCount := CountBraces(fn.Code)
		if openCount != closeCount {
			log.Warn("%s: original code has unbalanced braces (%d open, %d close); skipping rewrite", fn.Name, openCount, closeCount)
			state.ConfirmedRewrites = append(state.ConfirmedRewrites, model.RewriteProposal{
				FunctionName:  fn.Name,
				OriginalCode:  fn.Code,
				RewrittenCode: "// WARNING: original code had unbalanced braces, rewrite skipped\n" + substituted,
				IsValid:       false,
			})
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := client.Invoke(ctx, rewriteSystemPrompt, "Function: "+fn.Name+"\nCode:\n"+substituted, oracle.Options{
			Temperature:      0.2,
			StructuredOutput: true,
			RequiredKeys:     []string{"rewritten_code"},
		})
		if err != nil {
			log.Warn("%s: rewrite oracle call failed: %v; keeping substituted code", fn.Name, err)
			state.ConfirmedRewrites = append(state.ConfirmedRewrites, fallbackRewrite(fn, substituted, "oracle call failed: "+err.Error()))
			continue
		}

		var parsed rewriteResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &parsed); err != nil || parsed.RewrittenCode == "" {
			log.Warn("%s: rewrite response unparsable; keeping substituted code", fn.Name)
			state.ConfirmedRewrites = append(state.ConfirmedRewrites, fallbackRewrite(fn, substituted, "unparsable rewrite response"))
			continue
		}

		rOpen, rClose := CountBraces(parsed.RewrittenCode)
		if rOpen != rClose {
			log.Warn("%s: rewrite rejected, brace mismatch (%d vs %d)", fn.Name, rOpen, rClose)
			state.ConfirmedRewrites = append(state.ConfirmedRewrites, fallbackRewrite(fn, substituted, "brace mismatch in oracle rewrite"))
			continue
		}

		state.ConfirmedRewrites = append(state.ConfirmedRewrites, model.RewriteProposal{
			FunctionName:    fn.Name,
			OriginalCode:    fn.Code,
			RewrittenCode:   parsed.RewrittenCode,
			Transformations: parsed.Transformations,
			IsValid:         true,
		})
	}

	return nil
}

func fallbackRewrite(fn model.FunctionUnit, substituted, reason string) model.RewriteProposal {
	return model.RewriteProposal{
		FunctionName:  fn.Name,
		OriginalCode:  fn.Code,
		RewrittenCode: "// WARNING: rewrite rejected (" + reason + "), keeping substituted code\n" + substituted,
		IsValid:       false,
	}
}
