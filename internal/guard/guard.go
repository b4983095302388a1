// Package guard implements the red-flag rejection pass: a structural
// filter that discards oracle samples before they ever influence a vote.
package guard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the outcome of a red-flag check.
type Result struct {
	Accepted bool
	Reason   string
}

// Guard holds the configured rejection thresholds.
type Guard struct {
	MaxOutputTokens int
}

// New builds a Guard with the given max-output-tokens threshold. A
// non-positive value falls back to a default of 1000.
func New(maxOutputTokens int) *Guard {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 1000
	}
	return &Guard{MaxOutputTokens: maxOutputTokens}
}

// stripFences removes a leading ```json or ``` fence and a trailing ```
// fence before JSON parsing is attempted.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Check applies the five red-flag rules in order and returns the parsed
// value (a map[string]any) on acceptance, or nil on rejection.
// existingVariables is only consulted for rename tasks (non-nil set);
// pass nil to skip the hallucination check entirely (e.g. type recovery).
func (g *Guard) Check(raw string, requiredKeys []string, existingVariables map[string]bool) (map[string]interface{}, Result) {
	// Rule 1: token estimate (whitespace split).
	tokenCount := len(strings.Fields(raw))
	if tokenCount > g.MaxOutputTokens {
		return nil, Result{false, fmt.Sprintf("response_too_long (%d tokens > %d)", tokenCount, g.MaxOutputTokens)}
	}

	cleaned := stripFences(raw)

	// Rule 2: must parse as JSON.
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, Result{false, "invalid_json_format"}
	}

	// Rule 3: empty parsed value.
	if len(parsed) == 0 {
		return nil, Result{false, "empty_response"}
	}

	// Rule 4: required keys present.
	for _, k := range requiredKeys {
		if _, ok := parsed[k]; !ok {
			return nil, Result{false, fmt.Sprintf("missing_keys: [%s]", k)}
		}
	}

	// Rule 5: hallucination check, rename tasks only.
	if existingVariables != nil {
		for key := range parsed {
			if !existingVariables[key] {
				return nil, Result{false, fmt.Sprintf("hallucinated_variable: %s", key)}
			}
		}
	}

	return parsed, Result{true, "valid"}
}

// DropIdentity removes identity mappings (x -> x) from a rename map;
// identity-only outputs are silently filtered out but not rejected.
func DropIdentity(renames map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for k, v := range renames {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == s {
			continue
		}
		out[k] = s
	}
	return out
}
