package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"revai/internal/config"
	"revai/internal/control"
	"revai/internal/model"
	"revai/internal/oracle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubOracle struct {
	text string
}

func (s *stubOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts oracle.Options) (oracle.Response, error) {
	return oracle.Response{Text: s.text}, nil
}
func (s *stubOracle) Ping(ctx context.Context) error { return nil }
func (s *stubOracle) Name() string                   { return "stub" }

func TestRun_ScopeFilterAndEmission(t *testing.T) {
	dir := t.TempDir()

	functions := []model.FunctionUnit{
		{Address: "0x1", Name: "parseNetworkPacket", Code: "int iVar1;", Variables: []string{"iVar1"},
			Calls: []model.Call{{CalleeName: "parseHeader"}}},
		{Address: "0x2", Name: "parseHeader", Code: "int iVar2;", Variables: []string{"iVar2"}},
		{Address: "0x3", Name: "unrelatedUtility", Code: "int iVar3;", Variables: []string{"iVar3"}},
	}

	cfg := config.Default()
	cfg.MinModuleSize = 1
	cfg.MaxModuleSize = 10
	cfg.MaxWorkers = 2

	oc := &stubOracle{text: `{}`}
	opts := Options{
		Cfg:           cfg,
		RunRoot:       dir,
		ProjectName:   "testproj",
		Goal:          "network",
		TypeClient:    oc,
		RewriteClient: oc,
		VoteClient:    oc,
	}

	result, err := Run(context.Background(), functions, opts, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SourceFileCount == 0 {
		t.Error("expected at least one emitted source file")
	}

	for _, f := range []string{"SECRETS_REPORT.md", "lightning_traces.jsonl", "rename_import.json"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("expected %s to exist: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "refactored_code", "project.json")); err != nil {
		t.Errorf("expected project descriptor: %v", err)
	}
}

func TestRun_ExportOnlySkipsRefinement(t *testing.T) {
	dir := t.TempDir()
	functions := []model.FunctionUnit{
		{Address: "0x1", Name: "fn1", Code: "int x;", Variables: []string{"x"}},
	}
	cfg := config.Default()
	oc := &stubOracle{text: `{}`}
	opts := Options{Cfg: cfg, RunRoot: dir, ExportOnly: true, TypeClient: oc, RewriteClient: oc, VoteClient: oc}

	result, err := Run(context.Background(), functions, opts, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.SourceFileCount != 0 {
		t.Errorf("expected no emission in export-only mode, got %d", result.SourceFileCount)
	}
	if _, err := os.Stat(filepath.Join(dir, "SECRETS_REPORT.md")); err == nil {
		t.Error("expected no secrets report written in export-only mode")
	}
}

// blockingOracle never answers until its context is cancelled, simulating
// an oracle call in flight when a run is cancelled mid-refinement.
type blockingOracle struct{}

func (b *blockingOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts oracle.Options) (oracle.Response, error) {
	<-ctx.Done()
	return oracle.Response{}, ctx.Err()
}
func (b *blockingOracle) Ping(ctx context.Context) error { return nil }
func (b *blockingOracle) Name() string                   { return "blocking" }

func TestRun_CancellationMidRunPreservesCompletedModules(t *testing.T) {
	dir := t.TempDir()

	functions := []model.FunctionUnit{
		{Address: "0x1", Name: "parseOne", Code: "int iVar1;", Variables: []string{"iVar1"}},
		{Address: "0x2", Name: "parseTwo", Code: "int iVar2;", Variables: []string{"iVar2"}},
	}

	cfg := config.Default()
	cfg.MinModuleSize = 1
	cfg.MaxModuleSize = 1
	cfg.MaxWorkers = 1

	sig := control.New(context.Background())
	opts := Options{
		Cfg:           cfg,
		RunRoot:       dir,
		ProjectName:   "testproj",
		Goal:          "",
		TypeClient:    &blockingOracle{},
		RewriteClient: &blockingOracle{},
		VoteClient:    &stubOracle{text: `{}`},
	}

	done := make(chan error, 1)
	var result RunResult
	go func() {
		var err error
		result, err = Run(context.Background(), functions, opts, sig, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sig.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		if !result.Cancelled {
			t.Error("expected result.Cancelled to be true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return promptly after cancellation")
	}
}

// TestRun_LootEventPerMatch proves a label with two distinct matches
// produces two separate LootEvents rather than one bundling both values.
func TestRun_LootEventPerMatch(t *testing.T) {
	dir := t.TempDir()

	functions := []model.FunctionUnit{
		{Address: "0x1", Name: "connectPeer", Code: `char *a = "10.0.0.1"; char *b = "10.0.0.2";`,
			Variables: []string{"a", "b"}},
	}

	cfg := config.Default()
	cfg.MinModuleSize = 1
	cfg.MaxModuleSize = 10
	cfg.MaxWorkers = 1

	oc := &stubOracle{text: `{}`}
	events := NewEvents()
	opts := Options{
		Cfg:           cfg,
		RunRoot:       dir,
		ProjectName:   "testproj",
		Goal:          "",
		TypeClient:    oc,
		RewriteClient: oc,
		VoteClient:    oc,
	}

	if _, err := Run(context.Background(), functions, opts, nil, events); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var lootEvents []LootEvent
	for {
		select {
		case ev := <-events.Loot:
			lootEvents = append(lootEvents, ev)
			continue
		default:
		}
		break
	}

	if len(lootEvents) != 2 {
		t.Fatalf("expected 2 loot events (one per match), got %d: %+v", len(lootEvents), lootEvents)
	}
	seen := map[string]bool{}
	for _, ev := range lootEvents {
		if ev.Label != "IPv4_Address" {
			t.Errorf("expected label IPv4_Address, got %q", ev.Label)
		}
		seen[ev.Value] = true
	}
	if !seen["10.0.0.1"] || !seen["10.0.0.2"] {
		t.Errorf("expected both distinct matches present, got %+v", lootEvents)
	}
}
