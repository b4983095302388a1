// Package librarian groups decompiled functions into ModuleGroups by
// call-graph connected components, names each module from a fixed keyword
// table, and extracts cross-function shared types. The clustering DFS uses
// an explicit stack rather than recursion, since a call graph may contain
// cycles deep enough to overflow the goroutine stack.
package librarian

import (
	"fmt"
	"sort"
	"strings"

	"revai/internal/logging"
	"revai/internal/model"
)

// Config bounds module size: every output module's function count must
// fall within [MinModuleSize, MaxModuleSize] (aside from the utilities_N
// overflow buckets and the hard cap on runaway clusters).
type Config struct {
	MinModuleSize int
	MaxModuleSize int
}

// DefaultConfig returns the documented default bounds.
func DefaultConfig() Config {
	return Config{MinModuleSize: 3, MaxModuleSize: 15}
}

// keywordToName is the frozen keyword-to-module-name table. Order matters:
// the first matching keyword wins, so the table is walked
// in this fixed order rather than as a Go map (whose iteration order is
// randomized).
var keywordToName = []struct{ keyword, name string }{
	{"auth", "authentication"},
	{"net", "network"},
	{"file", "filesystem"},
	{"crypto", "cryptography"},
	{"init", "initialization"},
	{"parse", "parser"},
	{"verify", "verification"},
	{"process", "processor"},
	{"handle", "handler"},
}

// primitiveTypes is the frozen primitive-type set: C/C++
// integer and floating types, signed/unsigned variants, size types, wide
// chars, fixed-width {u,}intN_t, Microsoft-style __intN, and the
// decompiler's undefined{,1,2,4,8} placeholders.
var primitiveTypes = map[string]bool{
	"void": true, "bool": true, "_Bool": true,
	"char": true, "signed char": true, "unsigned char": true, "uchar": true,
	"byte": true, "wchar_t": true,
	"short": true, "short int": true, "unsigned short": true, "ushort": true,
	"int": true, "signed int": true, "unsigned int": true, "uint": true,
	"long": true, "long int": true, "unsigned long": true, "ulong": true,
	"long long": true, "unsigned long long": true,
	"float": true, "double": true, "long double": true,
	"size_t": true, "ssize_t": true,
	"int8_t": true, "uint8_t": true, "int16_t": true, "uint16_t": true,
	"int32_t": true, "uint32_t": true, "int64_t": true, "uint64_t": true,
	"__int8": true, "__int16": true, "__int32": true, "__int64": true,
	"undefined": true, "undefined1": true, "undefined2": true,
	"undefined4": true, "undefined8": true,
}

// IsPrimitive reports whether typ is in the frozen primitive set. Pointer
// and array decorations are stripped before comparison so "int *" is still
// recognized as a decoration over the primitive "int".
func IsPrimitive(typ string) bool {
	base := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '*' {
			return -1
		}
		return r
	}, typ))
	return primitiveTypes[base]
}

// Group partitions functions into ModuleGroups; the result is always a
// partition of the input set.
func Group(functions []model.FunctionUnit, cfg Config) []model.ModuleGroup {
	log := logging.Get(logging.CategoryLibrarian)

	if cfg.MinModuleSize <= 0 {
		cfg.MinModuleSize = 3
	}
	if cfg.MaxModuleSize <= 0 {
		cfg.MaxModuleSize = 15
	}
	hardCap := int(1.5 * float64(cfg.MaxModuleSize))
	if hardCap < cfg.MaxModuleSize {
		hardCap = cfg.MaxModuleSize
	}

	graph, byName := buildCallGraph(functions)

	visited := make(map[string]bool, len(functions))
	var groups []model.ModuleGroup
	var orphanNames []string

	// Preserve input order for deterministic output and test reproducibility.
	for _, f := range functions {
		if visited[f.Name] {
			continue
		}
		cluster := connectedComponent(f.Name, graph, visited, hardCap)
		if len(cluster) >= cfg.MinModuleSize {
			groups = append(groups, buildModule(cluster, byName))
		} else {
			orphanNames = append(orphanNames, cluster...)
		}
	}

	if len(orphanNames) > 0 {
		for i, chunk := range chunkBy(orphanNames, cfg.MaxModuleSize) {
			mod := buildModule(chunk, byName)
			mod.ModuleName = fmt.Sprintf("utilities_%d", i+1)
			groups = append(groups, mod)
		}
	}

	log.Info("grouped %d functions into %d modules", len(functions), len(groups))
	return groups
}

// buildCallGraph symmetrizes calls into an undirected adjacency map, only
// keeping edges to callees that resolve to a function present in the
// input.
func buildCallGraph(functions []model.FunctionUnit) (map[string][]string, map[string]model.FunctionUnit) {
	byName := make(map[string]model.FunctionUnit, len(functions))
	for _, f := range functions {
		byName[f.Name] = f
	}

	adjSet := make(map[string]map[string]bool, len(functions))
	addEdge := func(a, b string) {
		if adjSet[a] == nil {
			adjSet[a] = make(map[string]bool)
		}
		adjSet[a][b] = true
	}

	for _, f := range functions {
		for _, c := range f.Calls {
			if _, ok := byName[c.CalleeName]; !ok || c.CalleeName == "" {
				continue
			}
			addEdge(f.Name, c.CalleeName)
			addEdge(c.CalleeName, f.Name)
		}
	}

	graph := make(map[string][]string, len(adjSet))
	for name, neighbors := range adjSet {
		list := make([]string, 0, len(neighbors))
		for n := range neighbors {
			list = append(list, n)
		}
		sort.Strings(list)
		graph[name] = list
	}
	return graph, byName
}

// connectedComponent runs an explicit-stack DFS from start, stopping
// growth once the component reaches hardCap.
func connectedComponent(start string, graph map[string][]string, visited map[string]bool, hardCap int) []string {
	if visited[start] {
		return nil
	}
	var component []string
	stack := []string{start}

	for len(stack) > 0 && len(component) < hardCap {
		n := len(stack) - 1
		name := stack[n]
		stack = stack[:n]

		if visited[name] {
			continue
		}
		visited[name] = true
		component = append(component, name)

		if len(component) >= hardCap {
			break
		}
		for _, neighbor := range graph[name] {
			if !visited[neighbor] {
				stack = append(stack, neighbor)
			}
		}
	}
	return component
}

// buildModule assembles a ModuleGroup from a cluster of function names,
// preserving byName's natural ordering where possible.
func buildModule(names []string, byName map[string]model.FunctionUnit) model.ModuleGroup {
	sortedNames := append([]string(nil), names...)
	sort.Strings(sortedNames)

	functions := make([]model.FunctionUnit, 0, len(sortedNames))
	for _, n := range sortedNames {
		if f, ok := byName[n]; ok {
			functions = append(functions, f)
		}
	}

	return model.ModuleGroup{
		ModuleName:  generateModuleName(functions),
		Functions:   functions,
		SharedTypes: extractSharedTypes(functions),
	}
}

// generateModuleName walks the naming fallback chain: keyword match, then
// longest common prefix, then the first function's own name.
func generateModuleName(functions []model.FunctionUnit) string {
	names := make([]string, len(functions))
	for i, f := range functions {
		names[i] = f.Name
	}

	for _, kw := range keywordToName {
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), kw.keyword) {
				return kw.name
			}
		}
	}

	if prefix := longestCommonPrefix(names); len(prefix) > 3 {
		return strings.ToLower(strings.TrimRight(prefix, "_"))
	}

	if len(names) > 0 {
		return strings.ToLower(strings.Replace(names[0], "fun_", "module_", 1))
	}
	return "unknown"
}

func longestCommonPrefix(strs []string) string {
	if len(strs) == 0 {
		return ""
	}
	prefix := strs[0]
	for _, s := range strs[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// extractSharedTypes returns non-primitive type strings referenced by at
// least 2 member functions.
func extractSharedTypes(functions []model.FunctionUnit) []string {
	usage := make(map[string]int)
	for _, f := range functions {
		seenInThisFunc := make(map[string]bool)
		for _, typ := range f.VarTypes {
			if IsPrimitive(typ) || seenInThisFunc[typ] {
				continue
			}
			seenInThisFunc[typ] = true
			usage[typ]++
		}
	}

	var shared []string
	for typ, count := range usage {
		if count >= 2 {
			shared = append(shared, typ)
		}
	}
	sort.Strings(shared)
	return shared
}

// chunkBy splits names into groups of at most size, preserving order.
func chunkBy(names []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	for i := 0; i < len(names); i += size {
		end := i + size
		if end > len(names) {
			end = len(names)
		}
		chunks = append(chunks, names[i:end])
	}
	return chunks
}

// VisGraph builds the visualization side-output: node size is a monotone,
// capped function of variable count.
func VisGraph(functions []model.FunctionUnit) model.VisGraph {
	const maxSymbolSize = 60
	const baseSymbolSize = 10

	g := model.VisGraph{}
	names := make(map[string]bool, len(functions))
	for _, f := range functions {
		names[f.Name] = true
	}

	for _, f := range functions {
		size := baseSymbolSize + len(f.Variables)*2
		if size > maxSymbolSize {
			size = maxSymbolSize
		}
		g.Nodes = append(g.Nodes, model.VisNode{Name: f.Name, SymbolSize: size, Value: len(f.Variables)})
		for _, c := range f.Calls {
			if names[c.CalleeName] {
				g.Links = append(g.Links, model.VisLink{Source: f.Name, Target: c.CalleeName})
			}
		}
	}
	return g
}
