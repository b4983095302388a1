package librarian

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"revai/internal/model"
)

func fn(name string, calls ...string) model.FunctionUnit {
	c := make([]model.Call, len(calls))
	for i, callee := range calls {
		c[i] = model.Call{CalleeName: callee}
	}
	return model.FunctionUnit{Name: name, Calls: c}
}

func TestGroup_PartitionsAllFunctions(t *testing.T) {
	functions := []model.FunctionUnit{
		fn("f1", "f2"), fn("f2", "f1", "f3"), fn("f3", "f2"),
		fn("f4"), fn("f5"),
	}
	groups := Group(functions, Config{MinModuleSize: 3, MaxModuleSize: 8})

	total := 0
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, f := range g.Functions {
			if seen[f.Name] {
				t.Errorf("function %s assigned to more than one module", f.Name)
			}
			seen[f.Name] = true
			total++
		}
	}
	if total != len(functions) {
		t.Errorf("expected partition of all %d functions, got %d", len(functions), total)
	}
}

func TestGroup_ScenarioThreeClustering(t *testing.T) {
	var functions []model.FunctionUnit
	group1 := []string{"f1", "f2", "f3", "f4", "f5", "f6"}
	for _, n := range group1 {
		var calls []string
		for _, other := range group1 {
			if other != n {
				calls = append(calls, other)
			}
		}
		functions = append(functions, fn(n, calls...))
	}
	group2 := []string{"f7", "f8", "f9", "f10"}
	for _, n := range group2 {
		var calls []string
		for _, other := range group2 {
			if other != n {
				calls = append(calls, other)
			}
		}
		functions = append(functions, fn(n, calls...))
	}
	functions = append(functions, fn("f11"), fn("f12"))

	groups := Group(functions, Config{MinModuleSize: 3, MaxModuleSize: 8})

	var sizeSix, sizeFour, utilities int
	for _, g := range groups {
		switch len(g.Functions) {
		case 6:
			sizeSix++
		case 4:
			sizeFour++
		case 2:
			if g.ModuleName == "utilities_1" {
				utilities++
			}
		}
	}
	if sizeSix != 1 || sizeFour != 1 || utilities != 1 {
		t.Errorf("expected one size-6, one size-4, and one utilities_1 module, got groups=%+v", groups)
	}
}

func TestGroup_IsolatedFunctionBecomesUtilitiesOne(t *testing.T) {
	functions := []model.FunctionUnit{fn("lonely")}
	groups := Group(functions, Config{MinModuleSize: 3, MaxModuleSize: 8})

	if len(groups) != 1 || groups[0].ModuleName != "utilities_1" || len(groups[0].Functions) != 1 {
		t.Fatalf("expected a single utilities_1 module with 1 function, got %+v", groups)
	}
}

func TestGroup_RespectsMaxModuleSizeHardCap(t *testing.T) {
	var functions []model.FunctionUnit
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for i, n := range names {
		var calls []string
		if i > 0 {
			calls = append(calls, names[i-1])
		}
		if i < len(names)-1 {
			calls = append(calls, names[i+1])
		}
		functions = append(functions, fn(n, calls...))
	}

	groups := Group(functions, Config{MinModuleSize: 3, MaxModuleSize: 4})
	hardCap := 6 // ceil(1.5*4)
	for _, g := range groups {
		if len(g.Functions) > hardCap {
			t.Errorf("module %s exceeds hard cap %d: %d functions", g.ModuleName, hardCap, len(g.Functions))
		}
	}
}

func TestGenerateModuleName_KeywordMatch(t *testing.T) {
	functions := []model.FunctionUnit{{Name: "auth_login"}, {Name: "auth_logout"}}
	if got := generateModuleName(functions); got != "authentication" {
		t.Errorf("expected authentication, got %q", got)
	}
}

func TestExtractSharedTypes_OnlyNonPrimitiveSharedAcrossFunctions(t *testing.T) {
	functions := []model.FunctionUnit{
		{Name: "f1", VarTypes: map[string]string{"a": "int", "b": "CustomStruct"}},
		{Name: "f2", VarTypes: map[string]string{"c": "CustomStruct", "d": "undefined4"}},
	}
	shared := extractSharedTypes(functions)
	if len(shared) != 1 || shared[0] != "CustomStruct" {
		t.Errorf("expected only CustomStruct shared, got %v", shared)
	}
}

func TestVisGraph_NodesAndLinksMatchExpectedShape(t *testing.T) {
	functions := []model.FunctionUnit{
		{Name: "parseHeader", Variables: []string{"a", "b"}, Calls: []model.Call{{CalleeName: "parsePayload"}}},
		{Name: "parsePayload", Variables: []string{"c"}, Calls: []model.Call{{CalleeName: "unknownExternal"}}},
	}

	got := VisGraph(functions)
	want := model.VisGraph{
		Nodes: []model.VisNode{
			{Name: "parseHeader", SymbolSize: 14, Value: 2},
			{Name: "parsePayload", SymbolSize: 12, Value: 1},
		},
		Links: []model.VisLink{
			{Source: "parseHeader", Target: "parsePayload"},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("VisGraph mismatch (-want +got):\n%s", diff)
	}
}

func TestIsPrimitive(t *testing.T) {
	cases := map[string]bool{
		"int": true, "undefined4": true, "uint64_t": true, "int *": true,
		"CustomStruct": false, "MyType": false,
	}
	for typ, want := range cases {
		if got := IsPrimitive(typ); got != want {
			t.Errorf("IsPrimitive(%q) = %v, want %v", typ, got, want)
		}
	}
}
