package refine

import (
	"context"
	"encoding/json"
	"strings"

	"revai/internal/logging"
	"revai/internal/model"
	"revai/internal/oracle"
)

const typeRecoverySystemPrompt = `You are an expert reverse engineer performing type recovery on decompiled code.
Given the concatenated code of a module and the set of variable names in scope, propose a
recovered type for as many variables as you can.

Respond strictly as JSON: {"variables": {"name": {"proposed_type": "...", "confidence": 0.0, "reasoning": "..."}}, "struct_definitions": ["..."]}`

type rawTypeProposal struct {
	ProposedType string  `json:"proposed_type"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

type typeRecoveryResponse struct {
	Variables         map[string]rawTypeProposal `json:"variables"`
	StructDefinitions []string                   `json:"struct_definitions"`
}

const typeConfidenceThreshold = 0.7
const maxTypeRecoveryAttempts = 3

// RunTypeRecovery implements Stage 1: one oracle call per module, retried
// up to 3 times if the response yields no confirmed types, merging
// proposals with confidence >= 0.7 whose variable is actually in scope.
func RunTypeRecovery(ctx context.Context, client oracle.Client, state *model.RefinementState) error {
	log := logging.Get(logging.CategoryRefine)

	existing := make(map[string]bool)
	var concatenatedCode strings.Builder
	for _, f := range state.Module.Functions {
		concatenatedCode.WriteString(f.Code)
		concatenatedCode.WriteString("\n")
		for _, v := range f.Variables {
			existing[v] = true
		}
	}

	userPrompt := "Module: " + state.Module.ModuleName + "\nCode:\n" + concatenatedCode.String()

	for attempt := 0; attempt < maxTypeRecoveryAttempts; attempt++ {
		resp, err := client.Invoke(ctx, typeRecoverySystemPrompt, userPrompt, oracle.Options{
			Temperature:      0.2,
			StructuredOutput: true,
			RequiredKeys:     []string{"variables"},
		})
		if err != nil {
			log.Warn("type recovery attempt %d failed: %v", attempt+1, err)
			continue
		}

		proposals, structDefs := parseTypeResponse(resp.Text)
		merged := 0
		for _, p := range proposals {
			if p.Confidence < typeConfidenceThreshold {
				continue
			}
			if !existing[p.Variable] {
				continue
			}
			state.ConfirmType(p.Variable, p.ProposedType)
			state.TypeProposals = append(state.TypeProposals, p)
			merged++
		}
		state.StructDefs = append(state.StructDefs, structDefs...)

		if merged > 0 || len(state.ConfirmedTypes) > 0 {
			log.Info("type recovery for %s: %d confirmed types after attempt %d", state.Module.ModuleName, len(state.ConfirmedTypes), attempt+1)
			return nil
		}
	}

	log.Warn("type recovery for %s yielded no confirmed types after %d attempts", state.Module.ModuleName, maxTypeRecoveryAttempts)
	return nil
}

// parseTypeResponse accepts both the nested {variables: {...}} shape and
// the flat {name: {...}} shape a model response may produce.
func parseTypeResponse(text string) ([]model.TypeProposal, []string) {
	text = strings.TrimSpace(text)

	var nested typeRecoveryResponse
	if err := json.Unmarshal([]byte(text), &nested); err == nil && len(nested.Variables) > 0 {
		return toProposals(nested.Variables), nested.StructDefinitions
	}

	var flat map[string]rawTypeProposal
	if err := json.Unmarshal([]byte(text), &flat); err == nil && len(flat) > 0 {
		return toProposals(flat), nil
	}

	return nil, nil
}

func toProposals(m map[string]rawTypeProposal) []model.TypeProposal {
	out := make([]model.TypeProposal, 0, len(m))
	for name, p := range m {
		out = append(out, model.TypeProposal{
			Variable:     name,
			ProposedType: p.ProposedType,
			Confidence:   p.Confidence,
			Reasoning:    p.Reasoning,
		})
	}
	return out
}
