// Package symbol implements the linker's global symbol table (§4.4, §3
// "Symbol"): name→symbol lookup with a case-sensitivity policy, the
// definition/reference/surrogate flag set, and the rename-swap surrogate
// split used by the banking rewriter.
package symbol

import "strings"

// Segment is the minimal view of an area segment a Symbol needs for its
// absolute-address computation and diagnostics. internal/area.Segment
// implements it; symbol does not import area to avoid a dependency cycle
// (area.Segment, in turn, holds *Symbol back-references).
type Segment interface {
	StartAddress() uint16
	Name() string
}

// Flags is the set of boolean symbol properties from §3.
type Flags uint8

const (
	Defined Flags = 1 << iota
	Referenced
	Surrogate
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Symbol is a single globally visible name.
type Symbol struct {
	name            string
	Flags           Flags
	DefiningSegment Segment // nil when the symbol has no segment (absolute)
	OffsetInSegment uint16
}

// Name returns the symbol's name as spelled when it was first interned;
// Table lookups fold case per Table policy, Name does not.
func (s *Symbol) Name() string { return s.name }

// AbsoluteAddress returns startAddress(segment) + offset, or just the offset
// when the symbol has no defining segment (an absolute value, e.g. a -g
// override or an auto-symbol computed directly from a segment/area already
// in absolute terms).
func (s *Symbol) AbsoluteAddress() uint16 {
	if s.DefiningSegment == nil {
		return s.OffsetInSegment
	}
	return s.DefiningSegment.StartAddress() + s.OffsetInSegment
}

// Table owns all Symbol records for one link, keyed by canonicalized name.
type Table struct {
	caseSensitive bool
	byName        map[string]*Symbol
	order         []*Symbol // insertion order, for stable iteration
}

// NewTable creates an empty symbol table. caseSensitive mirrors
// target.Description.IsCaseSensitive (§4.12); when false, lookups and
// insertions fold names to upper case.
func NewTable(caseSensitive bool) *Table {
	return &Table{caseSensitive: caseSensitive, byName: make(map[string]*Symbol)}
}

func (t *Table) canon(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToUpper(name)
}

// Lookup returns the symbol named name, or nil if none exists yet.
func (t *Table) Lookup(name string) *Symbol {
	return t.byName[t.canon(name)]
}

func (t *Table) intern(name string) *Symbol {
	key := t.canon(name)
	if sym, ok := t.byName[key]; ok {
		return sym
	}
	sym := &Symbol{name: name}
	t.byName[key] = sym
	t.order = append(t.order, sym)
	return sym
}

// Make implements Symbol_make (§4.4): lookup-or-create, set the
// defined/referenced flag, warn via the returned diagnostic strings on a
// multiple definition or a nonzero address on a mere reference.
func (t *Table) Make(name string, isDefinition bool, addr uint16, seg Segment) (sym *Symbol, warning string) {
	sym = t.intern(name)

	if isDefinition {
		if sym.Flags.Has(Defined) {
			warning = "multiple definition of symbol " + name
		}
		sym.Flags |= Defined
		sym.OffsetInSegment = addr
		sym.DefiningSegment = seg
	} else {
		if addr != 0 {
			warning = "non-zero address in a reference to symbol " + name
		}
		sym.Flags |= Referenced
	}

	return sym, warning
}

// MakeBySplit implements Symbol_makeBySplit (§4.4): a rename-swap that gives
// a fresh name to the existing definition of original and turns original
// itself into an undefined, referenced, surrogate shim. Every caller already
// holding a *Symbol for original keeps pointing at the surrogate half —
// identity is preserved by swapping the two records' contents in place
// rather than by re-pointing callers.
func (t *Table) MakeBySplit(original *Symbol, surrogateName string) (*Symbol, error) {
	if !original.Flags.Has(Defined) {
		return nil, errNotDefined(original.Name())
	}
	if original.Flags.Has(Surrogate) {
		return nil, errAlreadySurrogate(original.Name())
	}

	definition := t.intern(surrogateName)

	// Move the prior definition onto the new name...
	definition.Flags = original.Flags &^ Referenced
	definition.DefiningSegment = original.DefiningSegment
	definition.OffsetInSegment = original.OffsetInSegment

	// ...and turn the original name into the undefined surrogate shim.
	original.Flags = Referenced | Surrogate
	original.DefiningSegment = nil
	original.OffsetInSegment = 0

	return definition, nil
}

// ApplyOverride implements the "-g NAME=ADDR" global-symbol override (§4.7
// step 5, run after area layout): name is force-defined at the absolute
// address addr, replacing whatever segment-relative definition it already
// had, the same way a "-b" override replaces an area's computed base.
func (t *Table) ApplyOverride(name string, addr uint16) {
	sym := t.intern(name)
	sym.Flags |= Defined
	sym.DefiningSegment = nil
	sym.OffsetInSegment = addr
}

// Undefined returns every symbol with the Defined flag unset, in insertion
// order.
func (t *Table) Undefined() []*Symbol {
	var result []*Symbol
	for _, sym := range t.order {
		if !sym.Flags.Has(Defined) {
			result = append(result, sym)
		}
	}
	return result
}

// All returns every interned symbol in insertion order.
func (t *Table) All() []*Symbol {
	out := make([]*Symbol, len(t.order))
	copy(out, t.order)
	return out
}

type notDefinedError struct{ name string }

func (e notDefinedError) Error() string { return "symbol not defined: " + e.name }
func errNotDefined(name string) error   { return notDefinedError{name} }

type alreadySurrogateError struct{ name string }

func (e alreadySurrogateError) Error() string { return "symbol already a surrogate: " + e.name }
func errAlreadySurrogate(name string) error   { return alreadySurrogateError{name} }
