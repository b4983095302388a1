package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"revai/internal/config"
	"revai/internal/control"
	"revai/internal/decompiler"
	"revai/internal/logging"
	"revai/internal/oracle"
	"revai/internal/pipeline"
	"revai/internal/tui"
)

var (
	runTarget      string
	runGhidraPath  string
	runGoal        string
	runOutput      string
	runLimit       int
	runWorkers     int
	runExportOnly  bool
	runProgressUI  bool
	runPostScript  string
	runProjectName string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Decompile a target binary and refine it into a readable module tree",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTarget, "target", "", "Path to the binary under analysis (required)")
	runCmd.Flags().StringVar(&runGhidraPath, "ghidra-path", "", "Path to the headless decompiler launcher (required)")
	runCmd.Flags().StringVar(&runGoal, "goal", "", "Natural-language description of what to look for (required)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Run directory (default: ./revai_run_<timestamp>)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "Cap the number of exported functions (0 = unbounded)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Max concurrent module refinements (0 = min(2*NumCPU, 16))")
	runCmd.Flags().BoolVar(&runExportOnly, "export-only", false, "Decompile and cluster only; skip refinement")
	runCmd.Flags().BoolVar(&runProgressUI, "progress-ui", false, "Render a live terminal progress view")
	runCmd.Flags().StringVar(&runPostScript, "post-script", "", "Post-analysis script path passed to the decompiler")
	runCmd.Flags().StringVar(&runProjectName, "project-name", "revai_project", "Name recorded in the emitted project descriptor")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runTarget == "" || runGhidraPath == "" || runGoal == "" {
		return fmt.Errorf("%w: --target, --ghidra-path, and --goal are all required", errInvalidArgs)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runWorkers > 0 {
		cfg.MaxWorkers = runWorkers
	}

	runRoot := runOutput
	if runRoot == "" {
		runRoot = filepath.Join(".", fmt.Sprintf("revai_run_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if err := logging.Initialize(runRoot, verbose || cfg.DebugMode, cfg.JSONLogging); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	log := logging.Get(logging.CategoryBoot)

	oracleClient, err := oracle.New(ctx, cfg.OracleEndpointURL, cfg.OracleModel,
		cfg.CredentialFor("gemini"), cfg.CredentialFor("http"), cfg.OracleTimeout)
	if err != nil {
		return err
	}
	if err := oracleClient.Ping(ctx); err != nil {
		return err
	}

	exportDir := filepath.Join(runRoot, "export")
	projectDir := filepath.Join(runRoot, "ghidra_project")
	functions, err := decompiler.Run(ctx, decompiler.Config{
		GhidraPath:     runGhidraPath,
		TargetBinary:   runTarget,
		ProjectDir:     projectDir,
		ProjectName:    runProjectName,
		PostScriptPath: runPostScript,
		ExportDir:      exportDir,
		ExportLimit:    runLimit,
	})
	if err != nil {
		return err
	}
	log.Info("decompiler produced %d function unit(s)", len(functions))

	sig := control.New(ctx)
	go func() {
		<-ctx.Done()
		sig.Cancel()
	}()

	var events *pipeline.Events
	var tuiQuit chan struct{}
	if runProgressUI {
		events = pipeline.NewEvents()
		tuiQuit = make(chan struct{})
		go func() {
			if err := tui.Run(events, tuiQuit); err != nil {
				log.Warn("progress view exited: %v", err)
			}
		}()
	}

	result, err := pipeline.Run(ctx, functions, pipeline.Options{
		Cfg:           cfg,
		RunRoot:       runRoot,
		ProjectName:   runProjectName,
		Goal:          runGoal,
		ExportOnly:    runExportOnly,
		TypeClient:    oracleClient,
		RewriteClient: oracleClient,
		VoteClient:    oracleClient,
		BuildCmd:      "make",
	}, sig, events)
	if tuiQuit != nil {
		close(tuiQuit)
	}
	if err != nil {
		return err
	}

	printRunSummary(runRoot, result)
	return nil
}

// printRunSummary renders a short markdown report through glamour, falling
// back to a plain line if the terminal can't be styled (e.g. output
// redirected to a file).
func printRunSummary(runRoot string, result pipeline.RunResult) {
	md := fmt.Sprintf(
		"# revai run complete\n\n- **run directory:** %s\n- **modules refined:** %d\n- **source files emitted:** %d\n- **judge reward:** %.2f\n",
		runRoot, len(result.Modules), result.SourceFileCount, result.JudgeReward)

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		if rendered, err := renderer.Render(md); err == nil {
			fmt.Fprint(os.Stdout, rendered)
			return
		}
	}
	fmt.Fprintf(os.Stdout, "revai: refined %d module(s), %d source file(s), judge reward %.2f\n",
		len(result.Modules), result.SourceFileCount, result.JudgeReward)
}
