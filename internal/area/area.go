// Package area implements the Area/Segment store and the address-layout
// algorithm (§4.3, §3 "Area"/"Segment"): areas are kept in first-seen order,
// each module contributes one Segment per area it touches, and Link assigns
// every segment an absolute start address and emits the s_<area>/l_<area>
// auto-symbols.
package area

import (
	"fmt"

	"github.com/kattkieru/aslink-gb/internal/symbol"
)

// Attr is the set of boolean area attributes from the "A" header line.
type Attr uint8

const (
	Absolute Attr = 1 << iota
	Overlayed
	Paged
	InCodeSpace
	InExternalDataSpace
	InBitSpace
	Nonloadable
)

func (a Attr) Has(flag Attr) bool { return a&flag != 0 }

// AbsoluteAreaName is the distinguished area every module implicitly has,
// used for absolute-valued symbols and literal addresses.
const AbsoluteAreaName = ".ABS."

// Segment is one module's ordered contribution to an Area. Segments within
// an area are laid out back to back in the order their owning modules were
// first parsed.
type Segment struct {
	area         *Area
	ModuleName   string
	Size         uint16
	startAddress uint16
	Symbols      []*symbol.Symbol
}

// Area returns the owning area.
func (s *Segment) Area() *Area { return s.area }

// StartAddress implements symbol.Segment.
func (s *Segment) StartAddress() uint16 { return s.startAddress }

// Name implements symbol.Segment, returning the owning area's name.
func (s *Segment) Name() string { return s.area.name }

// AddSymbol records sym as defined within this segment.
func (s *Segment) AddSymbol(sym *symbol.Symbol) { s.Symbols = append(s.Symbols, sym) }

// Area is one named region of output (e.g. _CODE, _DATA, _HOME).
type Area struct {
	name         string
	Attr         Attr
	Bank         int // -1 when the target has no banking concept or this area is unbanked
	segments     []*Segment
	totalSize    uint16
	startSymbol  *symbol.Symbol
	lengthSymbol *symbol.Symbol
}

// Name returns the area's name as it appeared in the object file.
func (a *Area) Name() string { return a.name }

// StartAddress returns the area's first segment's start address, or 0 for
// an area with no segments.
func (a *Area) StartAddress() uint16 {
	if len(a.segments) == 0 {
		return 0
	}
	return a.segments[0].startAddress
}

// Segments returns the area's segments in first-seen order.
func (a *Area) Segments() []*Segment { return a.segments }

// Size returns the sum of every segment's size.
func (a *Area) Size() uint16 { return a.totalSize }

// StartSymbol and LengthSymbol return the auto-symbols Link generated, or
// nil before Link has run.
func (a *Area) StartSymbol() *symbol.Symbol  { return a.startSymbol }
func (a *Area) LengthSymbol() *symbol.Symbol { return a.lengthSymbol }

// Store owns every Area for one link, keyed by name, in first-seen order.
type Store struct {
	byName map[string]*Area
	order  []*Area
}

// NewStore creates a Store pre-populated with the distinguished .ABS. area.
func NewStore() *Store {
	st := &Store{byName: make(map[string]*Area)}
	st.Make(AbsoluteAreaName, Absolute)
	return st
}

// Make implements Area_make (§4.3): lookup-or-create by name. A later "A"
// line for the same name with different attributes produces a warning
// rather than an error; the first attribute set wins.
func (st *Store) Make(name string, attr Attr) (area *Area, warning string) {
	if a, ok := st.byName[name]; ok {
		if a.Attr != attr && name != AbsoluteAreaName {
			warning = fmt.Sprintf("area %s: attributes redefined, first definition kept", name)
		}
		return a, warning
	}
	a := &Area{name: name, Attr: attr, Bank: -1}
	st.byName[name] = a
	st.order = append(st.order, a)
	return a, ""
}

// Lookup returns the area named name, or nil.
func (st *Store) Lookup(name string) *Area { return st.byName[name] }

// All returns every area in first-seen order, .ABS. included.
func (st *Store) All() []*Area { return st.order }

// MakeSegment appends a new segment of size bytes, owned by moduleName, to
// the area.
func (a *Area) MakeSegment(moduleName string, size uint16) *Segment {
	seg := &Segment{area: a, ModuleName: moduleName, Size: size}
	a.segments = append(a.segments, seg)
	a.totalSize += size
	return seg
}

// Link implements Area_link/Area__linkSegments (§4.3): it walks every
// non-absolute area in first-seen order, assigns each a start address
// (bases[name] if the caller supplied a -b/banking override, otherwise the
// address immediately following the previous area), lays its segments out
// back to back, and generates the s_<area>/l_<area> auto-symbols as
// absolute symbols with no defining segment.
//
// Link makes no distinction between banks: every area without a bases
// entry follows the previous area in the same running address sequence.
func (st *Store) Link(bases map[string]uint16, symtab *symbol.Table) error {
	var cursor uint32
	for _, a := range st.order {
		if a.name == AbsoluteAreaName {
			continue
		}

		start := uint16(cursor)
		if override, ok := bases[a.name]; ok {
			start = override
			cursor = uint32(override)
		}

		running := uint32(start)
		for _, seg := range a.segments {
			seg.startAddress = uint16(running)
			running += uint32(seg.Size)
			if running > 0x10000 {
				return fmt.Errorf("area %s: layout overflows 64K address space", a.name)
			}
		}
		cursor = running

		startSym, _ := symtab.Make("s_"+a.name, true, start, nil)
		lengthSym, _ := symtab.Make("l_"+a.name, true, a.totalSize, nil)
		a.startSymbol = startSym
		a.lengthSymbol = lengthSym
	}
	return nil
}
