// Package maker implements the MAKER reliability core: first-to-ahead-by-k
// sequential voting over repeated, independent oracle samples, turning one
// unreliable invocation into one reliable decision (Equation 14's
// k-calculation, Algorithm 2's sequential voting loop).
package maker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"revai/internal/control"
	"revai/internal/guard"
	"revai/internal/logging"
	"revai/internal/oracle"
	"revai/internal/trace"
)

// ErrVotingInfeasible is returned when the configured error rate makes the
// voting protocol mathematically unable to converge (p <= 0.5).
var ErrVotingInfeasible = errors.New("maker: voting infeasible at this error rate")

// hardSampleCeiling is the safety limit on total oracle samples per vote.
const hardSampleCeiling = 100

// temperatureDecayAfter is the sample count past which voting switches to
// greedy (temperature 0) sampling to break a deadlock.
const temperatureDecayAfter = 20

// Config holds one voting session's parameters, including the precomputed
// k derived from Equation 14.
type Config struct {
	Model              string
	Temperature        float64
	TargetReliability  float64 // t, 0 < t < 1
	EstimatedErrorRate float64 // p_err, clamped to [0.01, 0.49]
	TotalSteps         int     // s, the Maximal Decomposition step count
	MaxOutputTokens    int
	KOverride          int // 0 means "compute k"

	K int // resolved, either KOverride or computed
}

// NewConfig builds a Config and resolves k via Equation 14, or returns
// ErrVotingInfeasible if the clamped error rate yields p <= 0.5.
func NewConfig(model string, temperature, targetReliability, estimatedErrorRate float64, totalSteps, maxOutputTokens, kOverride int) (Config, error) {
	if totalSteps < 1 {
		totalSteps = 1
	}
	if estimatedErrorRate < 0.01 {
		estimatedErrorRate = 0.01
	} else if estimatedErrorRate > 0.49 {
		estimatedErrorRate = 0.49
	}

	cfg := Config{
		Model:              model,
		Temperature:        temperature,
		TargetReliability:  targetReliability,
		EstimatedErrorRate: estimatedErrorRate,
		TotalSteps:         totalSteps,
		MaxOutputTokens:    maxOutputTokens,
		KOverride:          kOverride,
	}

	if kOverride > 0 {
		cfg.K = kOverride
		return cfg, nil
	}

	k, err := calculateKMin(targetReliability, estimatedErrorRate, totalSteps)
	if err != nil {
		return Config{}, err
	}
	cfg.K = k
	return cfg, nil
}

// calculateKMin implements Equation 14:
// k_min = ceil( ln(t^(-1/s) - 1) / ln((1-p)/p) ), assuming m=1 (Maximal
// Decomposition), clamped to a minimum of 2 (need an outright majority).
func calculateKMin(targetReliability, estimatedErrorRate float64, totalSteps int) (int, error) {
	p := 1 - estimatedErrorRate
	t := targetReliability
	s := float64(totalSteps)

	if p <= 0.5 {
		return 0, fmt.Errorf("%w: success rate %.3f must exceed 0.5", ErrVotingInfeasible, p)
	}

	term1 := math.Pow(t, -1.0/s) - 1
	if term1 <= 0 {
		return 3, nil
	}
	term2 := (1 - p) / p

	numerator := math.Log(term1)
	denominator := math.Log(term2)
	if denominator == 0 || math.IsInf(numerator, 0) || math.IsInf(denominator, 0) {
		return 3, nil
	}

	k := int(math.Ceil(numerator / denominator))
	if k < 2 {
		k = 2
	}
	return k, nil
}

// Outcome is the result of one do_voting run.
type Outcome struct {
	Winner       map[string]string // nil if no valid sample was ever collected
	TotalSamples int
	ValidSamples int
	Unconverged  bool // true if the hard sample ceiling was hit without a margin-k winner
}

// Voter runs sequential first-to-ahead-by-k voting against one oracle
// backend, guarded by one red-flag Guard, with every invocation logged to
// a trace.Sink.
type Voter struct {
	Client oracle.Client
	Guard  *guard.Guard
	Trace  *trace.Sink
	Signal *control.Signal
}

// Vote runs Algorithm 2 (do_voting): it samples the oracle repeatedly,
// discarding red-flagged samples, until one canonical JSON vote leads the
// next-best by at least cfg.K votes, or the hard sample ceiling is reached.
// existingVariables gates the guard's hallucination check (nil disables it,
// appropriate for non-rename tasks such as type recovery).
func (v *Voter) Vote(ctx context.Context, cfg Config, systemPrompt, userPrompt string, requiredKeys []string, existingVariables map[string]bool) (Outcome, error) {
	log := logging.Get(logging.CategoryVoting)

	voteCounts := make(map[string]int)
	var sampleCount, validCount int

	for sampleCount < hardSampleCeiling {
		if v.Signal != nil {
			if err := v.Signal.WaitIfPaused(); err != nil {
				return Outcome{}, err
			}
		}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		default:
		}

		temperature := cfg.Temperature
		if sampleCount > temperatureDecayAfter {
			temperature = 0.0
		}

		vote, accepted, reason, latencyMs := v.sampleOne(ctx, cfg, systemPrompt, userPrompt, requiredKeys, existingVariables, temperature)
		sampleCount++

		v.logTrace(cfg, sampleCount, accepted, reason, latencyMs)

		if !accepted {
			log.Debug("sample %d rejected: %s", sampleCount, reason)
			continue
		}
		validCount++

		key := canonicalVoteKey(vote)
		voteCounts[key]++

		maxCount, secondMax := leaderGap(voteCounts)
		log.Debug("sample %d accepted, vote_counts=%d distinct, leader=%d, runner_up=%d, k=%d",
			sampleCount, len(voteCounts), maxCount, secondMax, cfg.K)

		if maxCount >= secondMax+cfg.K {
			winnerKey := argmax(voteCounts)
			winner, err := decodeVoteKey(winnerKey)
			if err != nil {
				return Outcome{}, fmt.Errorf("maker: decode winning vote: %w", err)
			}
			return Outcome{Winner: winner, TotalSamples: sampleCount, ValidSamples: validCount}, nil
		}
	}

	if len(voteCounts) > 0 {
		winnerKey := argmax(voteCounts)
		winner, err := decodeVoteKey(winnerKey)
		if err != nil {
			return Outcome{}, fmt.Errorf("maker: decode best-effort vote: %w", err)
		}
		log.Warn("voting hit hard ceiling of %d samples without a margin-%d winner; returning best-effort result", hardSampleCeiling, cfg.K)
		return Outcome{Winner: winner, TotalSamples: sampleCount, ValidSamples: validCount, Unconverged: true}, nil
	}

	return Outcome{TotalSamples: sampleCount, ValidSamples: validCount, Unconverged: true}, nil
}

// sampleOne draws one oracle sample and runs it through the red-flag guard,
// implementing Algorithm 3 (get_vote).
func (v *Voter) sampleOne(ctx context.Context, cfg Config, systemPrompt, userPrompt string, requiredKeys []string, existingVariables map[string]bool, temperature float64) (map[string]string, bool, string, int64) {
	resp, err := v.Client.Invoke(ctx, systemPrompt, userPrompt, oracle.Options{
		Temperature:      temperature,
		StructuredOutput: true,
		RequiredKeys:     requiredKeys,
	})
	if err != nil {
		return nil, false, fmt.Sprintf("oracle_error: %v", err), 0
	}

	parsed, result := v.Guard.Check(resp.Text, requiredKeys, existingVariables)
	if !result.Accepted {
		return nil, false, result.Reason, resp.LatencyMs
	}

	clean := guard.DropIdentity(parsed)
	return clean, true, "valid", resp.LatencyMs
}

func (v *Voter) logTrace(cfg Config, step int, accepted bool, reason string, latencyMs int64) {
	if v.Trace == nil {
		return
	}
	reward := 0.1
	if !accepted {
		reward = -0.5
	}
	_ = v.Trace.Append(
		fmt.Sprintf("voting_step_%d", step),
		reason,
		reward,
		"sampled",
		map[string]interface{}{
			"model":       cfg.Model,
			"k":           cfg.K,
			"accepted":    accepted,
			"latency_ms":  latencyMs,
		},
	)
}

// canonicalVoteKey serializes a vote as key-sorted JSON so that semantically
// identical maps always compare equal regardless of map iteration order.
func canonicalVoteKey(vote map[string]string) string {
	keys := make([]string, 0, len(vote))
	for k := range vote {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		K string `json:"k"`
		V string `json:"v"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].K = k
		ordered[i].V = vote[k]
	}
	data, _ := json.Marshal(ordered)
	return string(data)
}

func decodeVoteKey(key string) (map[string]string, error) {
	var ordered []struct {
		K string `json:"k"`
		V string `json:"v"`
	}
	if err := json.Unmarshal([]byte(key), &ordered); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(ordered))
	for _, kv := range ordered {
		out[kv.K] = kv.V
	}
	return out, nil
}

// leaderGap returns the leading vote count and the highest count among all
// other distinct votes (0 if there is only one distinct vote so far).
func leaderGap(voteCounts map[string]int) (maxCount, secondMax int) {
	for _, c := range voteCounts {
		if c > maxCount {
			maxCount = c
		}
	}
	for _, c := range voteCounts {
		if c < maxCount && c > secondMax {
			secondMax = c
		}
	}
	return maxCount, secondMax
}

// argmax returns the key with the highest count, breaking ties by the
// lexicographically smallest key for determinism.
func argmax(voteCounts map[string]int) string {
	var best string
	var bestCount = -1
	for k, c := range voteCounts {
		if c > bestCount || (c == bestCount && k < best) {
			best = k
			bestCount = c
		}
	}
	return best
}
