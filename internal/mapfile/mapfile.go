// Package mapfile implements the map-file fan-out (§4.11): the standard
// human-readable map and the NoICE-compatible symbol map, both driven from
// the same Manifest collected after layout, grounded on mapfile.c and
// noicemapfile.c respectively.
package mapfile

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// AreaAttr mirrors the "(ABS/REL,OVR/CON,PAG)" attribute tag
// MapFile__writeStandardAreaInfo prints after an area's size.
type AreaAttr uint8

const (
	AttrAbsolute AreaAttr = 1 << iota
	AttrOverlayed
	AttrPaged
)

func (a AreaAttr) Has(flag AreaAttr) bool { return a&flag != 0 }

// AreaSummary is one area's layout result, ready to print.
type AreaSummary struct {
	Name  string
	Bank  int // -1 when the target has no banking concept
	Start uint16
	Size  uint16
	Attr  AreaAttr

	// MemoryPage is the area's bank truncated to a byte (Area_getMemoryPage),
	// used for the "PP:" prefix on the area's own symbols. The paged-area
	// boundary/length check reads Start and Size, not MemoryPage.
	MemoryPage uint8
}

// SymbolEntry is one defined symbol's final address, ready to print.
type SymbolEntry struct {
	Name       string
	Address    uint16
	AreaName   string
	MemoryPage uint8 // copied from the owning AreaSummary, 0 when unpaged
}

// ModuleSummary is one parsed module, grouped by its source file for the
// standard map's "Files Linked" section.
type ModuleSummary struct {
	Name     string
	FileName string
}

// UndefinedSymbol is one symbol Symbol_checkForUndefinedSymbols still finds
// undefined after linking, plus every module that referenced it.
type UndefinedSymbol struct {
	Name         string
	ReferencedBy []string
}

// Manifest bundles every summary a map-file dialect may draw from.
type Manifest struct {
	// Radix is MapFile__base: 16, 10 or 8, selecting the header line text
	// ("Hexadecimal"/"Decimal"/"Octal") the standard map opens with.
	Radix int

	Areas   []AreaSummary
	Symbols []SymbolEntry
	Modules []ModuleSummary

	// LinkFiles are the positional input object files in link order, the
	// "Files Linked" column's row order.
	LinkFiles []string
	Libraries []string

	BaseOverrides   map[string]uint16
	GlobalOverrides map[string]uint16

	Undefined []UndefinedSymbol
}

// Encoder writes one map-file dialect.
type Encoder interface {
	Write(w io.Writer, m Manifest) error
}

func sortedSymbols(symbols []SymbolEntry) []SymbolEntry {
	out := make([]SymbolEntry, len(symbols))
	copy(out, symbols)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

func radixName(radix int) string {
	switch radix {
	case 10:
		return "Decimal"
	case 8:
		return "Octal"
	default:
		return "Hexadecimal"
	}
}

// Standard is the conventional human-readable map: a per-area block (address,
// size in hex and decimal, attribute tags, then its symbols sorted by
// address), followed by the files-linked/module, libraries-linked,
// base/global-override and undefined-symbol sections, grounded on
// mapfile.c's MapFile_generateStandardFile.
type Standard struct{}

func (Standard) Write(w io.Writer, m Manifest) error {
	fmt.Fprintf(w, "%s\n\n", radixName(m.Radix))

	if err := writeAreaBlocks(w, m.Areas, m.Symbols); err != nil {
		return err
	}
	if err := writeFilesLinked(w, m.LinkFiles, m.Modules); err != nil {
		return err
	}
	if err := writeLibrariesLinked(w, m.Libraries); err != nil {
		return err
	}
	writeOverrides(w, "User Base Address Definitions", m.BaseOverrides)
	writeOverrides(w, "User Global Definitions", m.GlobalOverrides)
	return writeUndefined(w, m.Undefined)
}

func writeAreaBlocks(w io.Writer, areas []AreaSummary, symbols []SymbolEntry) error {
	for _, a := range areas {
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Area\tAddr\tSize\tDecimal Bytes\tAttributes")
		fmt.Fprintln(tw, "----\t----\t----\t-------------\t----------")

		tag := "(REL"
		if a.Attr.Has(AttrAbsolute) {
			tag = "(ABS"
		}
		if a.Attr.Has(AttrOverlayed) {
			tag += ",OVR"
		} else {
			tag += ",CON"
		}
		if a.Attr.Has(AttrPaged) {
			tag += ",PAG"
		}
		tag += ")"
		if a.Attr.Has(AttrPaged) {
			tag += pagedAreaWarning(a)
		}

		fmt.Fprintf(tw, "%s\t%04X\t%04X\t= %d bytes\t%s\n", a.Name, a.Start, a.Size, a.Size, tag)
		if err := tw.Flush(); err != nil {
			return err
		}

		sw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(sw, "  Value\tGlobal")
		fmt.Fprintln(sw, "  -----\t------")
		for _, s := range sortedSymbols(areaSymbols(symbols, a.Name)) {
			value := fmt.Sprintf("%04X", s.Address)
			if s.MemoryPage != 0 {
				value = fmt.Sprintf("%02X:%04X", s.MemoryPage, s.Address)
			}
			fmt.Fprintf(sw, "  %s\t%s\n", value, s.Name)
		}
		if err := sw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

// pagedAreaWarning implements the "Boundary Error"/"Length Error" annotation
// MapFile__writeStandardAreaInfo appends when a paged area does not start on
// a page boundary or spans more than one page (256 bytes).
func pagedAreaWarning(a AreaSummary) string {
	addressIsBad := a.Start&0xFF != 0
	sizeIsBad := a.Size > 256
	if !addressIsBad && !sizeIsBad {
		return ""
	}
	s := " "
	if addressIsBad {
		s += " Boundary"
	}
	if addressIsBad && sizeIsBad {
		s += " /"
	}
	if sizeIsBad {
		s += " Length"
	}
	return s + " Error"
}

func areaSymbols(symbols []SymbolEntry, areaName string) []SymbolEntry {
	var out []SymbolEntry
	for _, s := range symbols {
		if s.AreaName == areaName {
			out = append(out, s)
		}
	}
	return out
}

// writeFilesLinked implements the "Files Linked [ module(s) ]" section: one
// row per input file in link order, listing every module that file defined.
func writeFilesLinked(w io.Writer, linkFiles []string, modules []ModuleSummary) error {
	byFile := make(map[string][]string)
	for _, mod := range modules {
		byFile[mod.FileName] = append(byFile[mod.FileName], mod.Name)
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Files Linked\t[ module(s) ]")
	fmt.Fprintln(tw, "------------\t-------------")
	for _, fileName := range linkFiles {
		fmt.Fprintf(tw, "%s\t[ %s ]\n", fileName, joinComma(byFile[fileName]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func writeLibrariesLinked(w io.Writer, libraries []string) error {
	if len(libraries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Libraries Linked")
	fmt.Fprintln(tw, "----------------")
	for _, lib := range libraries {
		fmt.Fprintln(tw, lib)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func writeOverrides(w io.Writer, heading string, overrides map[string]uint16) {
	if len(overrides) == 0 {
		return
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%s\n\n", heading)
	for _, name := range names {
		fmt.Fprintf(w, "%s = %04X\n", name, overrides[name])
	}
	fmt.Fprintln(w)
}

func joinComma(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func writeUndefined(w io.Writer, undefined []UndefinedSymbol) error {
	if len(undefined) == 0 {
		return nil
	}
	fmt.Fprintln(w, "Undefined Symbols")
	fmt.Fprintln(w, "-----------------")
	for _, u := range undefined {
		if len(u.ReferencedBy) == 0 {
			fmt.Fprintf(w, "%s\n", u.Name)
			continue
		}
		fmt.Fprintf(w, "%s\treferenced by %s\n", u.Name, joinComma(u.ReferencedBy))
	}
	fmt.Fprintln(w)
	return nil
}
