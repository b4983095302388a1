package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// New resolves a Client from config values, preferring an explicit Gemini
// credential (structured-output-native) and falling back to the generic
// HTTP endpoint contract. Mirrors a config-then-env provider-detection
// priority, simplified to the two backends this pipeline ships.
func New(ctx context.Context, endpointURL, model, geminiKey, httpKey string, timeout time.Duration) (Client, error) {
	if strings.TrimSpace(geminiKey) != "" {
		return NewGeminiOracle(ctx, geminiKey, model)
	}
	if strings.TrimSpace(endpointURL) != "" {
		return NewHTTPOracle(endpointURL, httpKey, model, timeout), nil
	}
	return nil, fmt.Errorf("oracle: no provider configured (need oracle_endpoint_url or a gemini credential)")
}
