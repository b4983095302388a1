// Package secrets implements the secret inspector: fixed regular
// expressions applied to a module's concatenated code, with unique
// matches appended under a write lock to a run-global Markdown report, the
// same single-writer-lock convention internal/logging uses for its shared
// run log.
package secrets

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"revai/internal/model"
)

// patterns is the frozen regex table.
// Order is fixed so report sections list labels deterministically.
var patterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"AWS_Access_Key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"Generic_Token", regexp.MustCompile(`['"][a-zA-Z0-9]{32,}['"]`)},
	{"IPv4_Address", regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
	{"URL", regexp.MustCompile(`https?://[^\s"']+`)},
}

// Findings maps a pattern label to its unique matches within one module.
type Findings map[string][]string

// Inspect applies every pattern to the concatenation of all function code
// in the module and returns unique matches per label, in the table's fixed
// label order (non-deterministic regexp.FindAllString order is sorted per
// label for reproducible reports).
func Inspect(module model.ModuleGroup) Findings {
	var code string
	for _, f := range module.Functions {
		code += f.Code + "\n"
	}

	findings := make(Findings)
	for _, p := range patterns {
		matches := p.re.FindAllString(code, -1)
		if len(matches) == 0 {
			continue
		}
		unique := make(map[string]bool, len(matches))
		for _, m := range matches {
			unique[m] = true
		}
		list := make([]string, 0, len(unique))
		for m := range unique {
			list = append(list, m)
		}
		sort.Strings(list)
		findings[p.label] = list
	}
	return findings
}

// Report is the run-global SECRETS_REPORT.md singleton. All writes are
// serialized by mu, since every module worker appends to the same file
// concurrently.
type Report struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenReport creates (or truncates) the report file at path.
func OpenReport(path string) (*Report, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("secrets: open report %s: %w", path, err)
	}
	if _, err := f.WriteString("# Secrets Report\n\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("secrets: write report header: %w", err)
	}
	return &Report{path: path, file: f}, nil
}

// AppendModule writes one Markdown section for a module's findings. A
// module with no findings writes nothing. Returns the total number of
// individual findings appended, used by the caller to emit one "loot"
// event per finding.
func (r *Report) AppendModule(moduleName string, findings Findings) (int, error) {
	if len(findings) == 0 {
		return 0, nil
	}

	labels := make([]string, 0, len(findings))
	for label := range findings {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	total := 0
	var section string
	section += fmt.Sprintf("## %s\n\n", moduleName)
	for _, label := range labels {
		for _, match := range findings[label] {
			section += fmt.Sprintf("- **%s**: `%s`\n", label, match)
			total++
		}
	}
	section += "\n"

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.WriteString(section); err != nil {
		return 0, fmt.Errorf("secrets: append section for %s: %w", moduleName, err)
	}
	return total, nil
}

// Close flushes and closes the report file.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
