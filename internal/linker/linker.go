package linker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/banking"
	"github.com/kattkieru/aslink-gb/internal/codeout"
	"github.com/kattkieru/aslink-gb/internal/library"
	"github.com/kattkieru/aslink-gb/internal/linkctx"
	"github.com/kattkieru/aslink-gb/internal/reloc"
	"github.com/kattkieru/aslink-gb/internal/symbol"
	"github.com/kattkieru/aslink-gb/internal/target"
)

// Options configures one link.
type Options struct {
	InputFiles   []string
	LibraryFiles []string

	// LibrarySearchPath is the ordered "-k" directory list libraries named
	// on -l (and bare on LibraryFiles) are resolved against (§4.8, §6).
	LibrarySearchPath []string

	// AreaBases are explicit area base-address overrides (the "-b"
	// command-line option, or a banking configuration file's contents),
	// threaded straight into area.Store.Link.
	AreaBases map[string]uint16

	// GlobalOverrides are explicit symbol-value overrides (the "-g"
	// command-line option, §4.7 step 5): applied after area layout so they
	// always win over whatever address the linked modules computed.
	GlobalOverrides map[string]uint16
}

// Driver runs the two-pass link described in §4.7:
//
//  1. Parse every input file (pass 1): build areas/segments/modules/symbols
//     and collect cross-module reference candidates for the banking pass.
//  2. Resolve libraries: repeat index lookup + pass-1 parse of newly
//     pulled members until the undefined symbol set stops shrinking.
//  3. Rewrite cross-bank calls: split each symbol a bank-crossing
//     reference targets and synthesize a trampoline stub module.
//  4. Report any symbol still undefined.
//  5. Lay out every area, assigning final addresses and s_/l_ auto-symbols.
//  6. Parse every input, pulled library member and stub again (pass 2):
//     this time build and relocate code sequences against final addresses.
type Driver struct{}

// Link runs the full pipeline and returns every relocated code sequence as
// an address-ordered list of codeout.Records, ready to hand to whichever
// output encoders the caller selected.
func (Driver) Link(ctx *linkctx.Context, tgt target.Description, opts Options) ([]codeout.Record, error) {
	var calls []banking.Call
	onCall := func(seg *area.Segment, sym *symbol.Symbol) {
		calls = append(calls, banking.Call{CallerSegment: seg, TargetSymbol: sym})
	}

	for _, path := range opts.InputFiles {
		if err := parseFileAtPass(ctx, tgt, path, Pass1, nil, onCall); err != nil {
			return nil, err
		}
	}

	resolver := library.NewResolver()
	for _, libPath := range opts.LibraryFiles {
		idx, err := buildLibraryIndex(libPath, opts.LibrarySearchPath, tgt.IsCaseSensitive())
		if err != nil {
			return nil, fmt.Errorf("indexing library %s: %w", libPath, err)
		}
		resolver.AddIndex(idx)
	}

	var pulledMembers []library.Member
	for {
		pulled := resolver.Resolve(func() []string {
			var names []string
			for _, s := range ctx.Symbols.Undefined() {
				names = append(names, s.Name())
			}
			return names
		})
		if len(pulled) == 0 {
			break
		}
		for _, m := range pulled {
			if err := parseMemberAtPass(ctx, tgt, *m, Pass1, nil, onCall); err != nil {
				return nil, err
			}
			pulledMembers = append(pulledMembers, *m)
		}
	}

	plan, err := banking.Rewrite(tgt, tgt, ctx.Symbols, calls)
	if err != nil {
		return nil, err
	}
	if plan.StubSource != "" {
		if err := parseReaderAtPass(ctx, tgt, "<banking-stub>", strings.NewReader(plan.StubSource), Pass1, nil, nil); err != nil {
			return nil, fmt.Errorf("parsing banking stub: %w", err)
		}
	}

	checkUndefined(ctx)

	if err := ctx.Areas.Link(opts.AreaBases, ctx.Symbols); err != nil {
		return nil, err
	}

	for name, addr := range opts.GlobalOverrides {
		ctx.Symbols.ApplyOverride(name, addr)
	}

	var records []codeout.Record
	onSeq := func(seq *reloc.CodeSequence, address uint16) error {
		records = append(records, codeout.Record{Address: address, Bytes: seq.Bytes})
		return nil
	}

	for _, path := range opts.InputFiles {
		if err := parseFileAtPass(ctx, tgt, path, Pass2, onSeq, nil); err != nil {
			return nil, err
		}
	}
	for _, m := range pulledMembers {
		if err := parseMemberAtPass(ctx, tgt, m, Pass2, onSeq, nil); err != nil {
			return nil, err
		}
	}
	if plan.StubSource != "" {
		if err := parseReaderAtPass(ctx, tgt, "<banking-stub>", strings.NewReader(plan.StubSource), Pass2, onSeq, nil); err != nil {
			return nil, fmt.Errorf("re-parsing banking stub: %w", err)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })
	return records, nil
}

// UndefinedReport names one symbol still undefined after library resolution
// and banking, plus every module that referenced it.
type UndefinedReport struct {
	Name         string
	ReferencedBy []string
}

// CollectUndefined implements Symbol_checkUndefined's module cross-reference
// (§4.4, §8 scenario 4): shared by checkUndefined's diagnostic and the map
// file's undefined-symbol section (§4.11) so both report the same modules.
func CollectUndefined(ctx *linkctx.Context) []UndefinedReport {
	var out []UndefinedReport
	for _, undef := range ctx.Symbols.Undefined() {
		var referencedBy []string
		for _, mod := range ctx.Modules.All() {
			for _, sym := range mod.Symbols() {
				if sym == undef {
					referencedBy = append(referencedBy, mod.Name)
					break
				}
			}
		}
		out = append(out, UndefinedReport{Name: undef.Name(), ReferencedBy: referencedBy})
	}
	return out
}

// checkUndefined implements Symbol_checkUndefined (§4.4): for every symbol
// still undefined after library resolution and banking, name it and every
// module that references it (§8 scenario 4 requires both in one line).
func checkUndefined(ctx *linkctx.Context) {
	for _, u := range CollectUndefined(ctx) {
		if len(u.ReferencedBy) == 0 {
			ctx.Errorf("undefined symbol: %s", u.Name)
			continue
		}
		ctx.Errorf("undefined symbol: %s referenced by module %s", u.Name, strings.Join(u.ReferencedBy, ", "))
	}
}

func parseReaderAtPass(ctx *linkctx.Context, tgt target.Description, name string, r io.Reader, pass Pass, onSeq SequenceFunc, onCall BankCallFunc) error {
	fp := newFileParser(ctx, tgt, name, pass, onSeq, onCall)
	return fp.parse(r)
}

func parseFileAtPass(ctx *linkctx.Context, tgt target.Description, path string, pass Pass, onSeq SequenceFunc, onCall BankCallFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return parseReaderAtPass(ctx, tgt, path, f, pass, onSeq, onCall)
}

// parseMemberAtPass parses one library.Member, resolving its "@<offset>"
// convention (if any) through library.Open (which in turn uses
// objfmt.ParseFileSpec) so an SDCCLIB-embedded member is read from its own
// byte range rather than the whole archive file.
func parseMemberAtPass(ctx *linkctx.Context, tgt target.Description, m library.Member, pass Pass, onSeq SequenceFunc, onCall BankCallFunc) error {
	r, err := library.Open(m)
	if err != nil {
		return err
	}
	defer r.Close()
	return parseReaderAtPass(ctx, tgt, m.ArchivePath, r, pass, onSeq, onCall)
}

// buildLibraryIndex resolves libArg against the "-k" search path and a
// ".lib" suffix default, then indexes it (§4.8): an "<SDCCLIB>" archive is
// parsed structurally via library.ParseIndex (symbol names come straight
// from its index, no object-file scan needed); a plain listing names one
// ".rel"-suffix-defaulted object file per line, each lightly pre-scanned
// (Parser_collectSymbolDefinitions) for the symbols it defines.
func buildLibraryIndex(libArg string, searchPath []string, caseSensitive bool) (*library.Index, error) {
	libPath, err := library.Resolve(library.EnsureSuffix(libArg, library.LibSuffix), searchPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(libPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	firstLine, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}

	idx := library.NewIndex()

	if library.IsSDCCLib(firstLine) {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		members, err := library.ParseIndex(reader, libPath, info.Size())
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			idx.AddMember(m)
		}
		return idx, nil
	}

	names, err := library.ParsePlainListing(io.MultiReader(strings.NewReader(firstLine), reader))
	if err != nil {
		return nil, err
	}
	for _, objName := range names {
		objPath, err := library.Resolve(objName, searchPath)
		if err != nil {
			return nil, err
		}
		symbols, err := preScanDefinedSymbols(objPath, caseSensitive)
		if err != nil {
			return nil, err
		}
		idx.AddMember(library.Member{ArchivePath: objPath, Symbols: symbols})
	}
	return idx, nil
}

// preScanDefinedSymbols runs a throwaway pass-1 parse of path into a scratch
// context (Parser_collectSymbolDefinitions' lightweight pre-scan) without
// committing anything to the real symbol table, returning every symbol name
// it defines.
func preScanDefinedSymbols(path string, caseSensitive bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scratch := linkctx.New(caseSensitive, false, false, io.Discard)
	fp := newFileParser(scratch, nil, path, Pass1, nil, nil)
	if err := fp.parse(f); err != nil {
		return nil, err
	}

	var names []string
	for _, sym := range scratch.Symbols.All() {
		if sym.Flags.Has(symbol.Defined) {
			names = append(names, sym.Name())
		}
	}
	return names, nil
}
