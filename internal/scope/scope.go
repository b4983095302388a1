// Package scope implements the target-scoping advisor: it turns a
// free-text user goal into a keyword set the decompiler driver uses as a
// case-insensitive substring filter, falling back to whitespace
// tokenization of the goal itself on oracle failure.
package scope

import (
	"context"
	"encoding/json"
	"strings"

	"revai/internal/logging"
	"revai/internal/oracle"
)

const systemPrompt = `You are a reverse engineering strategist.
Task: convert a high-level user goal into technical search terms for code analysis.

Rules:
1. Include standard library terms relevant to the goal's domain.
2. Include common verb prefixes (e.g. connect, send, receive, parse).
3. Include specific hex constants if relevant.

Output strictly as JSON: {"keywords": ["term1", "term2", ...]}`

type keywordResponse struct {
	Keywords []string `json:"keywords"`
}

// Keywords produces a keyword set from a free-text goal via a single
// structured oracle call, falling back to whitespace tokenization of the
// goal itself if the oracle call fails or returns unparsable JSON.
func Keywords(ctx context.Context, client oracle.Client, goal string) []string {
	log := logging.Get(logging.CategoryScope)

	resp, err := client.Invoke(ctx, systemPrompt, goal, oracle.Options{
		Temperature:      0.3,
		StructuredOutput: true,
		RequiredKeys:     []string{"keywords"},
	})
	if err != nil {
		log.Warn("scope advisor oracle call failed, falling back to tokenization: %v", err)
		return strings.Fields(goal)
	}

	var parsed keywordResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &parsed); err != nil {
		log.Warn("scope advisor returned unparsable JSON, falling back to tokenization: %v", err)
		return strings.Fields(goal)
	}
	if len(parsed.Keywords) == 0 {
		log.Warn("scope advisor returned an empty keyword list, falling back to tokenization")
		return strings.Fields(goal)
	}

	return parsed.Keywords
}

// Matches reports whether a function's name or namespace contains any
// keyword, case-insensitively. Used by the decompiler driver via
// GHIDRA_SEARCH_KEYWORDS, and re-applied in-process as a defensive filter.
func Matches(name, namespace string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(name + " " + namespace)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
