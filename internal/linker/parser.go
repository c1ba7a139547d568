// Package linker implements the two-pass driver (§4.7): pass 1 parses every
// input, building the Area/Module/Symbol stores and resolving libraries and
// banking; pass 2 re-parses the same inputs, this time building and
// relocating code sequences against the addresses pass 1's layout assigned.
//
// The per-line dispatch below is grounded on Parser_parseObjectFiles
// (original_source/src/parser.c): read the line's first token, switch on
// the command letter, and run a small per-command state machine. Each
// line's fields are tokenized through internal/scanner the same way the
// source tokenized its input stream, and numeric fields are evaluated
// through internal/objfmt.EvaluateNumber rather than parsed ad hoc.
package linker

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/linkctx"
	"github.com/kattkieru/aslink-gb/internal/module"
	"github.com/kattkieru/aslink-gb/internal/objfmt"
	"github.com/kattkieru/aslink-gb/internal/reloc"
	"github.com/kattkieru/aslink-gb/internal/scanner"
	"github.com/kattkieru/aslink-gb/internal/symbol"
	"github.com/kattkieru/aslink-gb/internal/target"
)

// Pass distinguishes the layout-building first pass from the
// relocate-and-emit second pass.
type Pass int

const (
	Pass1 Pass = iota
	Pass2
)

// SequenceFunc receives one fully relocated code sequence during Pass2,
// together with the absolute address its first byte belongs at.
type SequenceFunc func(seq *reloc.CodeSequence, address uint16) error

// BankCallFunc receives one candidate cross-module reference during Pass1:
// a symbol-targeting relocation found in callerSegment, naming target.
// internal/banking decides, once areas are assigned to banks, which of
// these actually cross a bank boundary and need a trampoline.
type BankCallFunc func(callerSegment *area.Segment, target *symbol.Symbol)

// fileParser walks one input file's lines once, in the pass its caller
// selected.
type fileParser struct {
	ctx      *linkctx.Context
	target   target.Description
	fileName string
	pass     Pass
	onSeq    SequenceFunc
	onCall   BankCallFunc

	currentModule  *module.Module
	currentSegment *area.Segment
	opts           objfmt.Options

	pendingCode   *reloc.CodeSequence
	pendingOffset uint16
}

func newFileParser(ctx *linkctx.Context, tgt target.Description, fileName string, pass Pass, onSeq SequenceFunc, onCall BankCallFunc) *fileParser {
	return &fileParser{
		ctx:      ctx,
		target:   tgt,
		fileName: fileName,
		pass:     pass,
		onSeq:    onSeq,
		onCall:   onCall,
		opts:     objfmt.DefaultOptions(),
	}
}

func tokenizeLine(line string) []scanner.Token {
	idx := 0
	sc := scanner.New(func() (byte, bool) {
		if idx >= len(line) {
			return 0, false
		}
		c := line[idx]
		idx++
		return c, true
	})
	var toks []scanner.Token
	for {
		t := sc.Next()
		if t.Kind == scanner.StreamEnd || t.Kind == scanner.Newline {
			break
		}
		if t.Kind == scanner.Comment {
			continue
		}
		toks = append(toks, t)
	}
	return toks
}

// evalNumber parses tok in whichever base the most recent "X"/"D"/"Q" radix
// line (or the file's default, absent one) has selected (§4.2 "Number
// parsing").
func (p *fileParser) evalNumber(tok scanner.Token) (int32, error) {
	if !objfmt.IsNumberKind(tok.Kind) && !objfmt.IsIdentifierKind(tok.Kind) {
		return 0, fmt.Errorf("number expected, got %q", tok.Text)
	}
	return objfmt.EvaluateNumber(tok.Text, p.opts.DefaultBase)
}

// parse reads r line by line, dispatching each to the matching command
// handler, and flushes any still-pending code sequence at end of file.
func (p *fileParser) parse(r io.Reader) error {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 64*1024), 1<<20)
	for lines.Scan() {
		if err := p.dispatch(lines.Text()); err != nil {
			return fmt.Errorf("%s: %w", p.fileName, err)
		}
	}
	if err := lines.Err(); err != nil {
		return err
	}
	return p.flushPending()
}

func (p *fileParser) dispatch(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	toks := tokenizeLine(trimmed)
	if len(toks) == 0 {
		return nil
	}
	cmd := toks[0].Text

	if cmd != "R" && cmd != "P" {
		if err := p.flushPending(); err != nil {
			return err
		}
	}

	switch cmd {
	case "H":
		return nil
	case "M":
		return p.handleModule(toks)
	case "O":
		return p.handleCompilerOptions(trimmed)
	case "A":
		return p.handleArea(toks)
	case "S":
		return p.handleSymbol(toks)
	case "T":
		return p.handleCode(toks)
	case "R", "P":
		return p.handleReloc(cmd, toks)
	default:
		switch cmd[0] {
		case 'X', 'D', 'Q':
			return p.handleRadix(cmd)
		}
		return fmt.Errorf("unrecognized record kind %q", cmd)
	}
}

// handleRadix implements the "X"/"D"/"Q" radix command (§4.2, §4.6): the
// command letter selects the default base (16/10/8) new numeric literals
// are evaluated in, and an optional second character ("H"/"L") overrides
// the endianness T-line address words are assembled with. Both take effect
// identically in either pass. Per §8 scenario 6, this state resets to
// objfmt.DefaultOptions only at a file boundary, never mid-file.
func (p *fileParser) handleRadix(cmd string) error {
	switch cmd[0] {
	case 'X':
		p.opts.DefaultBase = 16
	case 'D':
		p.opts.DefaultBase = 10
	case 'Q':
		p.opts.DefaultBase = 8
	}
	if len(cmd) > 1 {
		switch cmd[1] {
		case 'H':
			p.opts.Endianness = objfmt.EndianBig
		case 'L':
			p.opts.Endianness = objfmt.EndianLittle
		}
	}
	return nil
}

func (p *fileParser) handleModule(toks []scanner.Token) error {
	if len(toks) < 2 {
		return fmt.Errorf("M line missing module name")
	}
	p.currentModule = p.ctx.Modules.Make(toks[1].Text, p.fileName)
	p.currentSegment = nil
	return nil
}

func (p *fileParser) handleCompilerOptions(line string) error {
	if p.pass != Pass1 {
		return nil
	}
	if p.currentModule == nil {
		return fmt.Errorf("O line before M line")
	}
	if !p.ctx.CompilerOpts.Observe(line, p.currentModule.Name) {
		p.ctx.Warnf("module %s: compiler options line differs from the first one seen", p.currentModule.Name)
	}
	return nil
}

// handleArea implements the "A <name> size <hex> flags <hex>" record: pass
// 1 creates the area/segment, pass 2 merely re-selects the segment pass 1
// already built (by area name, within the current module).
func (p *fileParser) handleArea(toks []scanner.Token) error {
	if len(toks) < 6 || toks[2].Text != "size" || toks[4].Text != "flags" {
		return fmt.Errorf("malformed A line")
	}
	if p.currentModule == nil {
		return fmt.Errorf("A line before M line")
	}
	name := toks[1].Text

	if p.pass == Pass2 {
		seg := p.currentModule.SegmentByAreaName(name)
		if seg == nil {
			return fmt.Errorf("area %s not found in module %s (pass 1/2 mismatch)", name, p.currentModule.Name)
		}
		p.currentSegment = seg
		return nil
	}

	size, err := p.evalNumber(toks[3])
	if err != nil {
		return fmt.Errorf("bad area size: %w", err)
	}
	flags, err := p.evalNumber(toks[5])
	if err != nil {
		return fmt.Errorf("bad area flags: %w", err)
	}

	a, warn := p.ctx.Areas.Make(name, area.Attr(flags))
	if warn != "" {
		p.ctx.Warnf("%s", warn)
	}
	seg := a.MakeSegment(p.currentModule.Name, uint16(size))
	p.currentModule.AddSegment(name, seg)
	p.currentSegment = seg
	return nil
}

// handleSymbol implements "S <name> Def<hex>" / "S <name> Ref<hex>",
// pass 1 only: pass 2 doesn't need symbol definitions again, only the
// ordinal-indexed lookups pass 1 already built.
func (p *fileParser) handleSymbol(toks []scanner.Token) error {
	if p.pass != Pass1 {
		return nil
	}
	if len(toks) < 3 {
		return fmt.Errorf("malformed S line")
	}
	if p.currentModule == nil {
		return fmt.Errorf("S line before M line")
	}
	name := toks[1].Text
	kindField := toks[2].Text
	if len(kindField) < 4 {
		return fmt.Errorf("malformed S line kind field %q", kindField)
	}
	kindTag, offsetText := kindField[:3], kindField[3:]
	isDef := kindTag == "Def"
	if !isDef && kindTag != "Ref" {
		return fmt.Errorf("S line kind must be Def or Ref, got %q", kindTag)
	}
	offset, err := objfmt.EvaluateNumber(offsetText, p.opts.DefaultBase)
	if err != nil {
		return fmt.Errorf("bad S line offset: %w", err)
	}

	var seg symbol.Segment
	if isDef {
		seg = p.currentSegment
	}
	sym, warn := p.ctx.Symbols.Make(name, isDef, uint16(offset), seg)
	if warn != "" {
		p.ctx.Warnf("%s", warn)
	}
	p.currentModule.AddSymbol(sym)
	return nil
}

// handleCode implements "T <addrLo> <addrHi> <byte>...", pass 2 only: it
// opens a new pending code sequence, flushing (relocating and emitting) any
// sequence already pending first.
func (p *fileParser) handleCode(toks []scanner.Token) error {
	if p.pass != Pass2 {
		return nil
	}
	if len(toks) < 3 {
		return fmt.Errorf("malformed T line")
	}
	if p.currentSegment == nil {
		return fmt.Errorf("T line before A line")
	}

	lo, err := p.evalNumber(toks[1])
	if err != nil {
		return fmt.Errorf("bad T line address: %w", err)
	}
	hi, err := p.evalNumber(toks[2])
	if err != nil {
		return fmt.Errorf("bad T line address: %w", err)
	}
	offset := objfmt.MakeWord(byte(lo), byte(hi), p.opts.Endianness, p.target.IsBigEndian())

	data := make([]byte, 0, len(toks)-3)
	for _, tok := range toks[3:] {
		b, err := p.evalNumber(tok)
		if err != nil {
			return fmt.Errorf("bad T line byte %q: %w", tok.Text, err)
		}
		data = append(data, byte(b))
	}

	p.pendingCode = &reloc.CodeSequence{Bytes: data, Mod: p.currentModule}
	p.pendingOffset = offset
	return nil
}

// handleReloc implements "R <byteOffsetHex> <symbolOrAreaIndexHex>
// <kindHex>" (and its page-relative sibling "P", which additionally forces
// reloc.PageReferenced so Apply reports it as unsupported rather than
// silently mis-patching it).
func (p *fileParser) handleReloc(cmd string, toks []scanner.Token) error {
	if p.pass == Pass1 {
		return p.handleRelocPass1(toks)
	}
	if p.pendingCode == nil {
		return fmt.Errorf("%s line without a preceding T line", cmd)
	}
	if len(toks) != 4 {
		return fmt.Errorf("malformed %s line", cmd)
	}

	offset, err := p.evalNumber(toks[1])
	if err != nil {
		return fmt.Errorf("bad %s line offset: %w", cmd, err)
	}
	index, err := p.evalNumber(toks[2])
	if err != nil {
		return fmt.Errorf("bad %s line index: %w", cmd, err)
	}
	kindByte, err := p.evalNumber(toks[3])
	if err != nil {
		return fmt.Errorf("bad %s line kind: %w", cmd, err)
	}

	kind := reloc.Decode(byte(kindByte))
	if cmd == "P" {
		kind |= reloc.PageReferenced
	}
	p.pendingCode.Relocations = append(p.pendingCode.Relocations, reloc.Relocation{
		Kind:       kind,
		Index:      int(index),
		ByteOffset: int(offset),
	})
	return nil
}

// handleRelocPass1 records a symbol-targeting relocation as a banking-rewrite
// candidate. It only needs the index field; byte offsets and slot-width
// flags are irrelevant until Pass2 actually patches bytes.
func (p *fileParser) handleRelocPass1(toks []scanner.Token) error {
	if len(toks) != 4 || p.onCall == nil || p.currentModule == nil || p.currentSegment == nil {
		return nil
	}
	index, err := p.evalNumber(toks[2])
	if err != nil {
		return nil
	}
	kindByte, err := p.evalNumber(toks[3])
	if err != nil {
		return nil
	}
	if !reloc.Decode(byte(kindByte)).Has(reloc.IsSymbol) {
		return nil
	}
	sym, err := p.currentModule.Symbol(int(index))
	if err != nil {
		return nil
	}
	p.onCall(p.currentSegment, sym)
	return nil
}

// flushPending relocates and emits whatever code sequence is pending, if
// any. It is called before every non-R/P command and once more at end of
// file, since a sequence's relocation list (if it has one) is only
// complete once the next record begins.
func (p *fileParser) flushPending() error {
	if p.pendingCode == nil {
		return nil
	}
	seq := p.pendingCode
	base := p.currentSegment.StartAddress() + p.pendingOffset
	p.pendingCode = nil

	if err := reloc.Apply(seq, base, reloc.ApplyOptions{}); err != nil {
		return err
	}
	if p.onSeq != nil {
		return p.onSeq(seq, base)
	}
	return nil
}
