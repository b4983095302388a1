// Package model defines the data types shared across the revai pipeline:
// the function/module data produced by the decompiler driver and librarian,
// and the per-module working state threaded through the refinement stages.
package model

// Call is one edge out of a FunctionUnit's call list.
type Call struct {
	CalleeAddress string `json:"callee_address"`
	CalleeName    string `json:"callee_name"`
}

// FunctionUnit is a single decompiled function, immutable once produced by
// the decompiler driver.
type FunctionUnit struct {
	Address     string            `json:"address"`
	Name        string            `json:"name"`
	Code        string            `json:"code"`
	Variables   []string          `json:"variables"`
	VarTypes    map[string]string `json:"var_types"`
	Calls       []Call            `json:"calls"`
	ParamCount  int               `json:"param_count"`
	ReturnType  string            `json:"return_type"`
	Namespace   string            `json:"namespace,omitempty"`
}

// ModuleGroup is a set of related functions slated to become one source
// file, produced by the librarian.
type ModuleGroup struct {
	ModuleName   string         `json:"module_name"`
	Functions    []FunctionUnit `json:"functions"`
	SharedTypes  []string       `json:"shared_types"`
}

// AllVariables returns the union of every member function's variable set.
func (m ModuleGroup) AllVariables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range m.Functions {
		for _, v := range f.Variables {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// TypeProposal is one oracle-proposed type recovery for a single variable.
type TypeProposal struct {
	Variable     string  `json:"variable"`
	OriginalType string  `json:"original_type"`
	ProposedType string  `json:"proposed_type"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// RewriteProposal is one oracle-proposed rewrite of a single function.
type RewriteProposal struct {
	FunctionName    string   `json:"function_name"`
	OriginalCode    string   `json:"original_code"`
	RewrittenCode   string   `json:"rewritten_code"`
	Transformations []string `json:"transformations"`
	IsValid         bool     `json:"is_valid"`
}

// Stage is one of the closed set of refinement stages a module passes
// through, in order.
type Stage string

const (
	StageType   Stage = "type"
	StageRename Stage = "rename"
	StageRewrite Stage = "rewrite"
	StageEmit   Stage = "emit"
	StageDone   Stage = "done"
)

// RefinementState is the per-module mutable working set threaded through
// the four refinement stages. Owned exclusively by the worker processing
// its module; never shared across modules.
type RefinementState struct {
	Module           ModuleGroup
	TypeProposals    []TypeProposal
	ConfirmedTypes   map[string]string // variable -> type, monotone
	StructDefs       []string
	RewriteProposals []RewriteProposal
	ConfirmedRewrites []RewriteProposal
	ConfirmedRenames map[string]string // old -> new, monotone
	SourceFiles      map[string]string // filename -> text
	Stage            Stage
	Attempts         map[Stage]int
}

// NewRefinementState creates an empty working state for a module.
func NewRefinementState(m ModuleGroup) *RefinementState {
	return &RefinementState{
		Module:           m,
		ConfirmedTypes:   make(map[string]string),
		ConfirmedRenames: make(map[string]string),
		SourceFiles:      make(map[string]string),
		Stage:            StageType,
		Attempts:         make(map[Stage]int),
	}
}

// ConfirmType monotonically adds a confirmed variable->type mapping.
// Existing entries are never overwritten or removed.
func (s *RefinementState) ConfirmType(variable, typ string) {
	if _, exists := s.ConfirmedTypes[variable]; exists {
		return
	}
	s.ConfirmedTypes[variable] = typ
}

// ConfirmRename monotonically adds a confirmed old->new rename.
func (s *RefinementState) ConfirmRename(oldName, newName string) {
	if _, exists := s.ConfirmedRenames[oldName]; exists {
		return
	}
	s.ConfirmedRenames[oldName] = newName
}

// VisGraph is the {nodes, links} side-output consumed by a visualization
// client (the out-of-scope GUI, or the in-scope terminal progress view).
type VisGraph struct {
	Nodes []VisNode `json:"nodes"`
	Links []VisLink `json:"links"`
}

// VisNode describes one function as a graph node; SymbolSize is a capped,
// monotone function of variable count.
type VisNode struct {
	Name       string `json:"name"`
	SymbolSize int    `json:"symbolSize"`
	Value      int    `json:"value"`
}

// VisLink is one call edge between two function names.
type VisLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
