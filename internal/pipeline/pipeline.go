// Package pipeline implements the orchestrator tying every stage together:
// bounded-parallel per-module refinement, shared writer-locked artifacts,
// and the dashboard event channels. Bounded concurrency is built on
// golang.org/x/sync/errgroup + semaphore.Weighted, simplified from a
// priority-queue worker pool idiom since this pipeline has one task class
// (module refinement), not several priority tiers.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"revai/internal/config"
	"revai/internal/control"
	"revai/internal/guard"
	"revai/internal/judge"
	"revai/internal/librarian"
	"revai/internal/logging"
	"revai/internal/maker"
	"revai/internal/model"
	"revai/internal/oracle"
	"revai/internal/refine"
	"revai/internal/scope"
	"revai/internal/secrets"
	"revai/internal/trace"
)

// ErrCancelled is returned from Run when cancellation is asserted mid-run.
var ErrCancelled = errors.New("pipeline: run cancelled by user")

// RenameImportEntry is one element of the frozen rename-import wire
// contract written back for the external analysis project.
type RenameImportEntry struct {
	Address string            `json:"address"`
	Renames map[string]string `json:"renames"`
}

// Options configures one pipeline run.
type Options struct {
	Cfg           *config.Config
	RunRoot       string
	ProjectName   string
	Goal          string
	ExportOnly    bool
	TypeClient    oracle.Client
	RewriteClient oracle.Client
	VoteClient    oracle.Client
	BuildCmd      string
	BuildArgs     []string
}

// RunResult summarizes a completed or cancelled run.
type RunResult struct {
	Modules         []refine.ModuleResult
	JudgeReward     float64
	Cancelled       bool
	SourceFileCount int
}

// resolveWorkers applies the default of W = min(2*NumCPU, 16) when
// cfg.MaxWorkers is unset.
func resolveWorkers(cfg *config.Config) int {
	if cfg.MaxWorkers > 0 {
		return cfg.MaxWorkers
	}
	w := runtime.NumCPU() * 2
	if w > 16 {
		w = 16
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Run drives the whole orchestration: keyword scoping, call-graph
// clustering, per-module refinement under bounded concurrency, shared
// secrets/trace artifacts, rename-import emission, and the final judge
// pass.
func Run(ctx context.Context, functions []model.FunctionUnit, opts Options, signal *control.Signal, events *Events) (RunResult, error) {
	log := logging.Get(logging.CategoryPipeline)

	if signal == nil {
		signal = control.New(ctx)
	}

	keywords := scope.Keywords(ctx, opts.VoteClient, opts.Goal)
	scoped := make([]model.FunctionUnit, 0, len(functions))
	for _, fn := range functions {
		if scope.Matches(fn.Name, fn.Namespace, keywords) {
			scoped = append(scoped, fn)
		}
	}
	log.Info("scope filter kept %d/%d functions for goal %q", len(scoped), len(functions), opts.Goal)

	modules := librarian.Group(scoped, librarian.Config{
		MinModuleSize: opts.Cfg.MinModuleSize,
		MaxModuleSize: opts.Cfg.MaxModuleSize,
	})
	log.Info("librarian formed %d modules", len(modules))

	if opts.ExportOnly {
		return RunResult{}, nil
	}

	srcDir := filepath.Join(opts.RunRoot, "refactored_code", "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("pipeline: create src dir: %w", err)
	}

	secretsReport, err := secrets.OpenReport(filepath.Join(opts.RunRoot, "SECRETS_REPORT.md"))
	if err != nil {
		return RunResult{}, fmt.Errorf("pipeline: open secrets report: %w", err)
	}
	defer secretsReport.Close()

	traceSink, err := trace.Open(filepath.Join(opts.RunRoot, "lightning_traces.jsonl"), "")
	if err != nil {
		return RunResult{}, fmt.Errorf("pipeline: open trace sink: %w", err)
	}
	defer traceSink.Close()

	guardInstance := guard.New(opts.Cfg.MaxOutputTokens)
	makerCfg, err := maker.NewConfig(opts.Cfg.OracleModel, 0.3, opts.Cfg.TargetReliability, opts.Cfg.EstimatedErrorRate, 1, opts.Cfg.MaxOutputTokens, 0)
	if err != nil {
		return RunResult{}, fmt.Errorf("pipeline: maker config: %w", err)
	}
	voter := &maker.Voter{Client: opts.VoteClient, Guard: guardInstance, Trace: traceSink, Signal: signal}

	workers := resolveWorkers(opts.Cfg)
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(signal.Context())

	var mu sync.Mutex
	var results []refine.ModuleResult
	var sourceFiles []string
	var manifestEntries []refine.ManifestEntry
	var renameEntries []RenameImportEntry

	for _, module := range modules {
		module := module

		if err := signal.WaitIfPaused(); err != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			result, err := refine.Run(gctx, opts.TypeClient, voter, makerCfg, opts.RewriteClient, module, srcDir)
			if err != nil {
				log.Warn("module %s failed: %v", module.ModuleName, err)
				return nil // a per-module error does not invalidate the run
			}

			if count, err := secretsReport.AppendModule(module.ModuleName, result.SecretFindings); err != nil {
				log.Warn("secrets report write for %s: %v", module.ModuleName, err)
			} else if count > 0 {
				for label, values := range result.SecretFindings {
					for _, v := range values {
						events.emitLoot(LootEvent{Module: module.ModuleName, Label: label, Value: v})
					}
				}
			}

			events.emitGraph(librarian.VisGraph(module.Functions))
			events.emitConsensus(ConsensusEvent{
				Categories: []string{"types", "renames", "rewrites"},
				Values: []int{
					len(result.State.ConfirmedTypes),
					len(result.State.ConfirmedRenames),
					validRewriteCount(result.State.ConfirmedRewrites),
				},
			})
			for _, rw := range result.State.ConfirmedRewrites {
				events.emitDiff(DiffEvent{Original: rw.OriginalCode, Rewritten: rw.RewrittenCode})
			}

			mu.Lock()
			results = append(results, result)
			sourceFiles = append(sourceFiles, result.SourceFile)
			manifestEntries = append(manifestEntries, result.ManifestEntry)
			renameEntries = append(renameEntries, renameImportEntriesFor(module, result.State.ConfirmedRenames)...)
			mu.Unlock()

			return nil
		})
	}

	waitErr := g.Wait()

	if signal.Context().Err() != nil || errors.Is(waitErr, context.Canceled) {
		log.Warn("run cancelled; draining and preserving %d completed module(s)", len(results))
		writeArtifacts(opts, sourceFiles, manifestEntries, renameEntries)
		return RunResult{Modules: results, Cancelled: true, SourceFileCount: len(sourceFiles)}, ErrCancelled
	}

	writeArtifacts(opts, sourceFiles, manifestEntries, renameEntries)

	reward := 0.0
	if opts.BuildCmd != "" {
		verdict := judge.Evaluate(ctx, traceSink, opts.RunRoot, opts.BuildCmd, opts.BuildArgs, opts.Cfg.JudgeTimeout)
		reward = verdict.Reward
	}

	return RunResult{Modules: results, SourceFileCount: len(sourceFiles), JudgeReward: reward}, nil
}

func validRewriteCount(rewrites []model.RewriteProposal) int {
	n := 0
	for _, r := range rewrites {
		if r.IsValid {
			n++
		}
	}
	return n
}

func renameImportEntriesFor(module model.ModuleGroup, confirmed map[string]string) []RenameImportEntry {
	var out []RenameImportEntry
	for _, fn := range module.Functions {
		renames := make(map[string]string)
		for _, v := range fn.Variables {
			if newName, ok := confirmed[v]; ok {
				renames[v] = newName
			}
		}
		if len(renames) == 0 {
			continue
		}
		out = append(out, RenameImportEntry{Address: fn.Address, Renames: renames})
	}
	return out
}

// writeArtifacts writes the frozen rename-import file and the emission
// stage's project descriptor/manifest/build file once every module has
// finished.
func writeArtifacts(opts Options, sourceFiles []string, manifestEntries []refine.ManifestEntry, renameEntries []RenameImportEntry) {
	log := logging.Get(logging.CategoryPipeline)

	if data, err := json.MarshalIndent(renameEntries, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(opts.RunRoot, "rename_import.json"), data, 0o644)
	} else {
		log.Warn("marshal rename import: %v", err)
	}

	projectName := opts.ProjectName
	if projectName == "" {
		projectName = "revai_project"
	}
	if err := refine.WriteProjectDescriptor(filepath.Join(opts.RunRoot, "refactored_code"), projectName, sourceFiles, manifestEntries); err != nil {
		log.Warn("write project descriptor: %v", err)
	}
}
