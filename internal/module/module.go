// Package module implements the Module store (§3 "Module", C4): each
// relocatable object file parsed contributes one Module, which indexes the
// segments and symbols it defines by the 1-based ordinal the textual format
// addresses them by.
package module

import (
	"fmt"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/symbol"
)

// Module is one parsed object file's contribution to the link.
type Module struct {
	Name         string
	FileName     string
	segments     []*area.Segment
	symbols      []*symbol.Symbol
	segmentIndex map[string]int // area name -> 1-based ordinal within this module
	symbolIndex  map[string]int // symbol name -> 1-based ordinal within this module
}

// New creates an empty module named name, parsed out of fileName.
func New(name, fileName string) *Module {
	return &Module{
		Name:         name,
		FileName:     fileName,
		segmentIndex: make(map[string]int),
		symbolIndex:  make(map[string]int),
	}
}

// AddSegment appends seg as this module's next segment, recording its
// 1-based ordinal under areaName for later R/P-line lookups.
func (m *Module) AddSegment(areaName string, seg *area.Segment) {
	m.segments = append(m.segments, seg)
	m.segmentIndex[areaName] = len(m.segments)
}

// AddSymbol appends sym as this module's next symbol, recording its 1-based
// ordinal for later R/P-line lookups.
func (m *Module) AddSymbol(sym *symbol.Symbol) {
	m.symbols = append(m.symbols, sym)
	m.symbolIndex[sym.Name()] = len(m.symbols)
}

// ReplaceSymbol swaps the module's reference to a symbol (used after a
// banking rewrite's rename-swap, where the *symbol.Symbol identity the
// module's list points at does not change but its bookkeeping might).
func (m *Module) ReplaceSymbol(ordinal int, sym *symbol.Symbol) error {
	if ordinal < 1 || ordinal > len(m.symbols) {
		return fmt.Errorf("module %s: symbol ordinal %d out of range", m.Name, ordinal)
	}
	m.symbols[ordinal-1] = sym
	return nil
}

// Segment returns the segment at 1-based ordinal n (area index 0 always
// denotes .ABS. and is handled by the caller before reaching this point).
func (m *Module) Segment(n int) (*area.Segment, error) {
	if n < 1 || n > len(m.segments) {
		return nil, fmt.Errorf("module %s: segment ordinal %d out of range (have %d)", m.Name, n, len(m.segments))
	}
	return m.segments[n-1], nil
}

// SegmentByAreaName returns the segment this module owns within the named
// area, or nil if the module never referenced that area.
func (m *Module) SegmentByAreaName(areaName string) *area.Segment {
	idx, ok := m.segmentIndex[areaName]
	if !ok {
		return nil
	}
	return m.segments[idx-1]
}

// Symbol returns the symbol at 1-based ordinal n.
func (m *Module) Symbol(n int) (*symbol.Symbol, error) {
	if n < 1 || n > len(m.symbols) {
		return nil, fmt.Errorf("module %s: symbol ordinal %d out of range (have %d)", m.Name, n, len(m.symbols))
	}
	return m.symbols[n-1], nil
}

// SymbolByName returns the symbol this module interned under name, or nil.
func (m *Module) SymbolByName(name string) *symbol.Symbol {
	idx, ok := m.symbolIndex[name]
	if !ok {
		return nil
	}
	return m.symbols[idx-1]
}

// Segments and Symbols return the module's full ordered lists.
func (m *Module) Segments() []*area.Segment  { return m.segments }
func (m *Module) Symbols() []*symbol.Symbol  { return m.symbols }

func (m *Module) String() string {
	return fmt.Sprintf("module %s (%s): %d segments, %d symbols", m.Name, m.FileName, len(m.segments), len(m.symbols))
}

// Store owns every Module parsed during a link, in the order files were
// opened on the command line.
type Store struct {
	order      []*Module
	byName     map[string]*Module
	current    *Module
}

// NewStore returns an empty module store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Module)}
}

// Make implements Module_make: lookup-or-create by (name, fileName) pair. A
// single object file may define more than one module via nested "M" lines;
// each gets its own record even when names collide across files.
func (st *Store) Make(name, fileName string) *Module {
	key := fileName + "\x00" + name
	if m, ok := st.byName[key]; ok {
		st.current = m
		return m
	}
	m := New(name, fileName)
	st.byName[key] = m
	st.order = append(st.order, m)
	st.current = m
	return m
}

// Current returns the module most recently selected by SetCurrentByName/Make.
func (st *Store) Current() *Module { return st.current }

// SetCurrentByName re-selects an existing module as current, used when a
// library member or a later object file revisits a module name.
func (st *Store) SetCurrentByName(name, fileName string) error {
	key := fileName + "\x00" + name
	m, ok := st.byName[key]
	if !ok {
		return fmt.Errorf("module %s (%s) not found", name, fileName)
	}
	st.current = m
	return nil
}

// All returns every module in file-open order.
func (st *Store) All() []*Module { return st.order }
