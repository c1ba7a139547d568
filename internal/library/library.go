// Package library implements the library resolver (§4.8, §3 "Library"): a
// symbol-keyed index over archive members, closed over the undefined
// symbol set by repeated fixed-point iteration until no further member can
// satisfy anything still undefined.
package library

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/kattkieru/aslink-gb/internal/objfmt"
)

// Member is one object-module-shaped unit inside a library: either a
// standalone .rel file named on a "-l" argument, or a member of an SDCCLIB
// archive addressed by the "@<offset>" convention (§6, §12). ArchivePath
// carries that convention directly ("foo.lib@1234" for an embedded member,
// a bare path for a standalone one); Offset is kept in sync with it via
// objfmt.ParseFileSpec.
type Member struct {
	ArchivePath string
	Offset      int64 // byte offset of the member within ArchivePath; 0 for a standalone file
	Length      int64 // byte length of the member's embedded text; 0 means "read to EOF"
	Symbols     []string
}

const (
	// LibSuffix and ObjSuffix are the default extensions applied to a bare
	// "-l"/"-k" library argument and a plain-listing member name (§4.8).
	LibSuffix = ".lib"
	ObjSuffix = ".rel"

	sdccLibStart = "<SDCCLIB>"
	indexStart   = "<INDEX>"
	indexEnd     = "</INDEX>"
	moduleStart  = "<MODULE>"
	moduleEnd    = "</MODULE>"
)

// EnsureSuffix implements Library__ensureSuffix (§4.8): appends suffix to
// path when not already present, the ".lib" default for a bare "-k"/"-l"
// library argument or ".rel" default for a plain-listing library's member
// names.
func EnsureSuffix(path, suffix string) string {
	if strings.HasSuffix(path, suffix) {
		return path
	}
	return path + suffix
}

// Resolve finds name (already suffix-defaulted by the caller) against an
// ordered "-k" search-path list, the same left-to-right precedence as the
// reference linker's library path list: the first directory containing the
// file wins. A bare name with no search path configured, or one that exists
// relative to the working directory, resolves to itself unchanged.
func Resolve(name string, searchPath []string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	for _, dir := range searchPath {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if len(searchPath) == 0 {
		return name, nil
	}
	return "", fmt.Errorf("library %s not found in search path %v", name, searchPath)
}

// Index is the symbol-definition index for one library (one -l argument),
// built by a lightweight pre-scan (Parser_collectSymbolDefinitions) that
// never fully parses a member unless the resolver decides to pull it in.
type Index struct {
	members  []*Member
	bySymbol map[string][]*Member
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{bySymbol: make(map[string][]*Member)}
}

// AddMember registers m's defined symbols in the index.
func (idx *Index) AddMember(m Member) *Member {
	stored := &m
	idx.members = append(idx.members, stored)
	for _, name := range m.Symbols {
		idx.bySymbol[name] = append(idx.bySymbol[name], stored)
	}
	return stored
}

// Members returns every member in the order AddMember was called.
func (idx *Index) Members() []*Member { return idx.members }

// DefinedSymbolNames returns every symbol name the index can satisfy, sorted
// for deterministic diagnostic output.
func (idx *Index) DefinedSymbolNames() []string {
	names := maps.Keys(idx.bySymbol)
	slices.Sort(names)
	return names
}

// IsSDCCLib peeks at firstLine (the archive file's first line, already
// trimmed) and reports whether it opens an embedded "<SDCCLIB>" archive
// rather than a plain object-file listing (§4.8's two library shapes).
func IsSDCCLib(firstLine string) bool {
	return strings.TrimSpace(firstLine) == sdccLibStart
}

// ParseIndex implements Library__handleFileLine's <SDCCLIB> branch (§4.8):
// after the "<SDCCLIB>" line already consumed by the caller, "<INDEX>"
// introduces a decimal index size, then one "<MODULE>" block per member
// giving its name, its offset relative to the index size, and its defined
// symbol names (one per line) until "</MODULE>"; "</INDEX>" closes the
// directory. archivePath names the file r reads from and archiveSize is its
// total byte length, used to bound the last member's Length. Each member's
// Length is the gap to the next member's offset (or to archiveSize for the
// last one) — an addition this linker needs that the original format left
// unbounded, since it never actually read an embedded member back.
func ParseIndex(r io.Reader, archivePath string, archiveSize int64) ([]Member, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: empty archive", archivePath)
	}
	if strings.TrimSpace(scanner.Text()) != indexStart {
		return nil, fmt.Errorf("%s: expected %s after %s", archivePath, indexStart, sdccLibStart)
	}
	if !scanner.Scan() {
		return nil, fmt.Errorf("%s: truncated index", archivePath)
	}
	indexSize, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: bad index size: %w", archivePath, err)
	}

	var members []Member
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == indexEnd {
			break
		}
		if line != moduleStart {
			return nil, fmt.Errorf("%s: expected %s or %s, got %q", archivePath, moduleStart, indexEnd, line)
		}
		if !scanner.Scan() {
			return nil, fmt.Errorf("%s: truncated module header", archivePath)
		}
		_, offsetText, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			return nil, fmt.Errorf("%s: bad module header %q", archivePath, scanner.Text())
		}
		moduleOffset, err := strconv.ParseInt(strings.TrimSpace(offsetText), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad module offset: %w", archivePath, err)
		}

		offset := indexSize + moduleOffset
		m := Member{ArchivePath: fmt.Sprintf("%s@%d", archivePath, offset), Offset: offset}
		for scanner.Scan() {
			sym := strings.TrimSpace(scanner.Text())
			if sym == moduleEnd {
				break
			}
			m.Symbols = append(m.Symbols, sym)
		}
		members = append(members, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i := range members {
		if i+1 < len(members) {
			members[i].Length = members[i+1].Offset - members[i].Offset
		} else {
			members[i].Length = archiveSize - members[i].Offset
		}
	}
	return members, nil
}

// ParsePlainListing implements Library__handleFileLine's non-SDCCLIB branch
// (§4.8): one object file name per line, defaulted to the ".rel" suffix.
func ParsePlainListing(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, EnsureSuffix(line, ObjSuffix))
	}
	return names, scanner.Err()
}

// Open resolves m.ArchivePath's "@<offset>" convention via
// objfmt.ParseFileSpec and returns a reader positioned at the member's
// start, bounded to m.Length when set (0 reads to EOF). The caller is
// responsible for closing the returned io.Closer.
func Open(m Member) (io.ReadCloser, error) {
	path, offset, err := objfmt.ParseFileSpec(m.ArchivePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset == 0 {
		return f, nil
	}

	length := m.Length
	if length <= 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		length = info.Size() - offset
	}
	return sectionReadCloser{io.NewSectionReader(f, offset, length), f}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s sectionReadCloser) Close() error { return s.f.Close() }

// Resolver closes the undefined symbol set over every registered Index.
type Resolver struct {
	indices []*Index
	pulled  map[*Member]bool
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{pulled: make(map[*Member]bool)}
}

// AddIndex registers a library's index, in command-line "-l" order: earlier
// libraries are preferred when more than one could satisfy the same symbol,
// matching the reference linker's left-to-right search order.
func (r *Resolver) AddIndex(idx *Index) { r.indices = append(r.indices, idx) }

// Resolve runs Library_resolve (§4.8): it asks undefined for the current
// undefined-symbol snapshot, pulls in every not-yet-pulled member that
// defines one of them, and repeats — since pulling a member may itself
// introduce new undefined symbols — until a pass pulls nothing new. It
// returns every newly pulled member in pull order, ready to be fed back
// through the parser.
func (r *Resolver) Resolve(undefined func() []string) []*Member {
	var pulledOrder []*Member
	for {
		changedThisPass := false
		for _, name := range undefined() {
			for _, idx := range r.indices {
				for _, m := range idx.bySymbol[name] {
					if r.pulled[m] {
						continue
					}
					r.pulled[m] = true
					pulledOrder = append(pulledOrder, m)
					changedThisPass = true
				}
			}
		}
		if !changedThisPass {
			break
		}
	}
	return pulledOrder
}
