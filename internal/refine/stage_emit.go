package refine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"revai/internal/logging"
	"revai/internal/model"
)

// sourceTemplate wraps confirmed rewrites into the fixed scaffolding
// template for the target language. revai emits plain C, the decompiler's
// own source language, rather than translating
// to a managed-runtime target — there is no evidence in scope for which
// managed language a given binary should be "ported" to, and C keeps the
// rewritten identifiers and types directly buildable.
const sourceTemplate = `/* Generated by revai — module %q */
%s

%s
`

// ProjectDescriptor is the frozen JSON build descriptor written at the run
// root.
type ProjectDescriptor struct {
	ProjectName string   `json:"project_name"`
	SourceFiles []string `json:"source_files"`
	BuildTool   string   `json:"build_tool"`
}

// ManifestEntry is one row of the human-readable companion manifest:
// module -> source file -> function count -> secret findings, not part of
// the frozen descriptor contract.
type ManifestEntry struct {
	Module         string `yaml:"module"`
	SourceFile     string `yaml:"source_file"`
	FunctionCount  int    `yaml:"function_count"`
	SecretFindings int    `yaml:"secret_findings"`
}

// EmitModule implements Stage 4: concatenates confirmed rewrites into one
// source file, slug->PascalCase named, with struct definitions emitted as
// commented blocks. Returns the filename (relative to srcDir) and the
// manifest entry for the caller to aggregate across modules.
func EmitModule(state *model.RefinementState, srcDir string, secretFindingCount int) (filename string, entry ManifestEntry, err error) {
	log := logging.Get(logging.CategoryRefine)

	filename = pascalCase(state.Module.ModuleName) + ".c"

	var body strings.Builder
	for _, rw := range state.ConfirmedRewrites {
		body.WriteString(rw.RewrittenCode)
		body.WriteString("\n\n")
	}

	var structsBlock strings.Builder
	if len(state.StructDefs) > 0 {
		structsBlock.WriteString("/* recovered struct definitions:\n")
		for _, s := range state.StructDefs {
			structsBlock.WriteString(s)
			structsBlock.WriteString("\n")
		}
		structsBlock.WriteString("*/")
	}

	content := fmt.Sprintf(sourceTemplate, state.Module.ModuleName, structsBlock.String(), body.String())

	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return "", ManifestEntry{}, fmt.Errorf("refine: create src dir: %w", err)
	}
	path := filepath.Join(srcDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", ManifestEntry{}, fmt.Errorf("refine: write %s: %w", path, err)
	}

	state.SourceFiles[filename] = content
	state.Stage = model.StageDone

	log.Info("emitted %s (%d bytes, %d functions)", path, len(content), len(state.Module.Functions))

	return filename, ManifestEntry{
		Module:         state.Module.ModuleName,
		SourceFile:     filename,
		FunctionCount:  len(state.Module.Functions),
		SecretFindings: secretFindingCount,
	}, nil
}

// WriteProjectDescriptor writes the frozen JSON build descriptor and its
// YAML companion manifest at the run root.
func WriteProjectDescriptor(runRoot, projectName string, sourceFiles []string, entries []ManifestEntry) error {
	sort.Strings(sourceFiles)

	descriptor := ProjectDescriptor{
		ProjectName: projectName,
		SourceFiles: sourceFiles,
		BuildTool:   "make",
	}
	data, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return fmt.Errorf("refine: marshal project descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runRoot, "project.json"), data, 0o644); err != nil {
		return fmt.Errorf("refine: write project descriptor: %w", err)
	}

	manifestData, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("refine: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runRoot, "manifest.yaml"), manifestData, 0o644); err != nil {
		return fmt.Errorf("refine: write manifest: %w", err)
	}

	makefile := buildMakefile(projectName, sourceFiles)
	if err := os.WriteFile(filepath.Join(runRoot, "Makefile"), []byte(makefile), 0o644); err != nil {
		return fmt.Errorf("refine: write makefile: %w", err)
	}

	return nil
}

func buildMakefile(projectName string, sourceFiles []string) string {
	objs := make([]string, len(sourceFiles))
	for i, f := range sourceFiles {
		objs[i] = "src/" + f
	}
	return fmt.Sprintf("%s: %s\n\tcc -o %s %s\n", projectName, strings.Join(objs, " "), projectName, strings.Join(objs, " "))
}

// pascalCase converts a slug (snake_case or kebab-case) module name into
// PascalCase.
func pascalCase(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '_' || r == '-' })
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	if sb.Len() == 0 {
		return "Module"
	}
	return sb.String()
}
