// Package decompiler spawns the external headless static-analysis tool as
// a child process, streams its output line by line to the pipeline log,
// and collects the exported FunctionUnit dataset. Built on
// exec.CommandContext with deadline-vs-cancellation error classification
// and streamed output capture.
package decompiler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"revai/internal/logging"
	"revai/internal/model"
)

// Sentinel errors distinguishing decompiler failure modes.
var (
	// ErrDecompilerFailed is returned on a non-zero exit from the child
	// process.
	ErrDecompilerFailed = errors.New("decompiler: tool exited with an error")
	// ErrDecompilerOutputMissing is returned when the expected dataset file
	// was not produced.
	ErrDecompilerOutputMissing = errors.New("decompiler: expected output file was not produced")
)

// Config describes one invocation of the external tool: project directory,
// project name, import path, post-script path, and the
// -deleteProject/-overwrite argument set.
type Config struct {
	GhidraPath      string // path to the headless launcher binary
	TargetBinary    string // import path: the binary under analysis
	ProjectDir      string
	ProjectName     string
	PostScriptPath  string
	ExportDir       string // GHIDRA_EXPORT_DIR
	ExportLimit     int    // GHIDRA_EXPORT_LIMIT, 0 means unbounded
	SearchKeywords  []string
	DatasetFileName string // defaults to dataset_dirty.json
}

func (c Config) datasetPath() string {
	name := c.DatasetFileName
	if name == "" {
		name = "dataset_dirty.json"
	}
	return filepath.Join(c.ExportDir, name)
}

// buildArgs constructs the headless-analyzer argument vector.
func (c Config) buildArgs() []string {
	args := []string{c.ProjectDir, c.ProjectName, "-import", c.TargetBinary}
	if c.PostScriptPath != "" {
		args = append(args, "-postScript", c.PostScriptPath)
	}
	args = append(args, "-deleteProject", "-overwrite")
	return args
}

func (c Config) buildEnv() []string {
	env := os.Environ()
	env = append(env, "GHIDRA_EXPORT_DIR="+c.ExportDir)
	if c.ExportLimit > 0 {
		env = append(env, "GHIDRA_EXPORT_LIMIT="+strconv.Itoa(c.ExportLimit))
	}
	if len(c.SearchKeywords) > 0 {
		env = append(env, "GHIDRA_SEARCH_KEYWORDS="+strings.Join(c.SearchKeywords, ","))
	}
	return env
}

// Run spawns the external tool, streams its combined output to the
// pipeline log line by line, and on success parses the exported dataset.
// Cancellation of ctx kills the child process tree.
func Run(ctx context.Context, cfg Config) ([]model.FunctionUnit, error) {
	log := logging.Get(logging.CategoryDecompiler)

	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("decompiler: create export dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, cfg.GhidraPath, cfg.buildArgs()...)
	cmd.Env = cfg.buildEnv()
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decompiler: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("decompiler: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompilerFailed, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, log, "stdout")
	go streamLines(&wg, stderr, log, "stderr")
	wg.Wait()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		killProcessGroup(cmd)
		return nil, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: exit code %d", ErrDecompilerFailed, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: %v", ErrDecompilerFailed, waitErr)
	}

	return readDataset(cfg.datasetPath())
}

// streamLines copies r line by line into the pipeline log until EOF or an
// error; the caller checks ctx.Err() once both streams drain.
func streamLines(wg *sync.WaitGroup, r io.Reader, log *logging.Logger, streamName string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Info("[ghidra:%s] %s", streamName, scanner.Text())
	}
}

func readDataset(path string) ([]model.FunctionUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDecompilerOutputMissing
		}
		return nil, fmt.Errorf("decompiler: read dataset: %w", err)
	}

	var units []model.FunctionUnit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompilerOutputMissing, err)
	}
	return units, nil
}

// FilterByKeywords applies the case-insensitive substring filter the
// decompiler's external script applies itself; exposed so the orchestrator
// can re-apply it defensively if the external tool does not honor
// GHIDRA_SEARCH_KEYWORDS.
func FilterByKeywords(units []model.FunctionUnit, keywords []string) []model.FunctionUnit {
	if len(keywords) == 0 {
		return units
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	var out []model.FunctionUnit
	for _, u := range units {
		haystack := strings.ToLower(u.Name + " " + u.Namespace)
		for _, k := range lowered {
			if k != "" && strings.Contains(haystack, k) {
				out = append(out, u)
				break
			}
		}
	}
	return out
}
