package mapfile

import (
	"strings"
	"testing"
)

func TestStandardMapListsAreasAttributesAndSortedSymbols(t *testing.T) {
	m := Manifest{
		Radix: 16,
		Areas: []AreaSummary{{Name: "_CODE", Bank: -1, Start: 0x0150, Size: 0x10, Attr: AttrAbsolute | AttrOverlayed}},
		Symbols: []SymbolEntry{
			{Name: "_main", Address: 0x0160, AreaName: "_CODE"},
			{Name: "_start", Address: 0x0150, AreaName: "_CODE"},
		},
	}

	var buf strings.Builder
	if err := (Standard{}).Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "_CODE") {
		t.Errorf("missing area row: %q", out)
	}
	if !strings.Contains(out, "(ABS,OVR)") {
		t.Errorf("missing attribute tag: %q", out)
	}
	if !strings.Contains(out, "= 16 bytes") {
		t.Errorf("missing decimal byte count: %q", out)
	}
	startIdx := strings.Index(out, "_start")
	mainIdx := strings.Index(out, "_main")
	if startIdx == -1 || mainIdx == -1 || startIdx > mainIdx {
		t.Errorf("symbols not sorted by address: %q", out)
	}
}

func TestStandardMapListsFilesLibrariesOverridesAndUndefined(t *testing.T) {
	m := Manifest{
		Radix:   16,
		Areas:   []AreaSummary{{Name: "_CODE", Bank: -1, Start: 0, Size: 0}},
		Modules: []ModuleSummary{{Name: "main", FileName: "main.rel"}, {Name: "helper", FileName: "lib.rel"}},
		LinkFiles: []string{"main.rel"},
		Libraries: []string{"mylib.lib"},
		BaseOverrides:   map[string]uint16{"_CODE": 0x0150},
		GlobalOverrides: map[string]uint16{"_start": 0x9000},
		Undefined:       []UndefinedSymbol{{Name: "_missing", ReferencedBy: []string{"main"}}},
	}

	var buf strings.Builder
	if err := (Standard{}).Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Files Linked", "main.rel", "[ main ]",
		"Libraries Linked", "mylib.lib",
		"User Base Address Definitions", "_CODE = 0150",
		"User Global Definitions", "_start = 9000",
		"Undefined Symbols", "_missing", "referenced by main",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNoICEStripsDotMangledNamesIntoDirectives(t *testing.T) {
	m := Manifest{
		Areas: []AreaSummary{{Name: "_CODE", Start: 0, Size: 0}},
		Symbols: []SymbolEntry{
			{Name: "_main", Address: 0x0150, AreaName: "_CODE"},
			{Name: "main.main..FN", Address: 0x0150, AreaName: "_CODE"},
			{Name: "main.main..EFN", Address: 0x0160, AreaName: "_CODE"},
		},
	}
	var buf strings.Builder
	if err := (NoICE{}).Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "DEF _main 0:0x150\n") {
		t.Errorf("missing plain symbol def: %q", out)
	}
	if !strings.Contains(out, "FILE main\n") {
		t.Errorf("missing FILE directive: %q", out)
	}
	if !strings.Contains(out, "FUNC main 0:0x150\n") {
		t.Errorf("missing FUNC directive: %q", out)
	}
	if !strings.Contains(out, "ENDF 0:0x160\n") {
		t.Errorf("missing ENDF directive: %q", out)
	}
}
