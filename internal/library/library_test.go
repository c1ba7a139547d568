package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverPullsTransitiveDependencies(t *testing.T) {
	idx := NewIndex()
	idx.AddMember(Member{ArchivePath: "libc.lib", Offset: 0, Symbols: []string{"_printf"}})
	idx.AddMember(Member{ArchivePath: "libc.lib", Offset: 100, Symbols: []string{"_putchar"}})

	r := NewResolver()
	r.AddIndex(idx)

	undefined := []string{"_printf"}
	pulled := r.Resolve(func() []string { return undefined })

	if len(pulled) != 1 || pulled[0].Symbols[0] != "_printf" {
		t.Fatalf("Resolve pulled %v, want just the _printf member", pulled)
	}

	// Simulate parsing the pulled member revealing a new undefined ref.
	undefined = append(undefined, "_putchar")
	pulled = r.Resolve(func() []string { return undefined })
	if len(pulled) != 1 || pulled[0].Symbols[0] != "_putchar" {
		t.Fatalf("second Resolve pass = %v, want the _putchar member", pulled)
	}

	// A third pass with nothing new pulls nothing.
	if pulled := r.Resolve(func() []string { return undefined }); len(pulled) != 0 {
		t.Fatalf("expected no further members pulled, got %v", pulled)
	}
}

func TestParseIndexAndOpenRoundTripsEmbeddedMembers(t *testing.T) {
	fooText := "H 1 areas 1 global symbols\nM foo\nA _CODE size 02 flags 00\nS _foo Def0000\nT 00 00 01 02\n"
	barText := "H 1 areas 1 global symbols\nM bar\nA _CODE size 02 flags 00\nS _bar Def0000\nT 00 00 03 04\n"

	// indexSize is declared as 0, so each module's offset is an absolute
	// byte position in the file: the header's own length, then that plus
	// fooText's length.
	header := fmt.Sprintf(
		"<SDCCLIB>\n<INDEX>\n0\n<MODULE>\nfoo.rel %04d\n_foo\n</MODULE>\n<MODULE>\nbar.rel %04d\n_bar\n</MODULE>\n</INDEX>\n",
		0, 0)
	headerLen := len(header)
	archiveHeader := fmt.Sprintf(
		"<SDCCLIB>\n<INDEX>\n0\n<MODULE>\nfoo.rel %04d\n_foo\n</MODULE>\n<MODULE>\nbar.rel %04d\n_bar\n</MODULE>\n</INDEX>\n",
		headerLen, headerLen+len(fooText))
	if len(archiveHeader) != headerLen {
		t.Fatalf("header length not stable across substitution: %d vs %d", len(archiveHeader), headerLen)
	}

	fullArchive := archiveHeader + fooText + barText

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "mylib.lib")
	if err := os.WriteFile(archivePath, []byte(fullArchive), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	firstLine := "<SDCCLIB>\n"
	if !IsSDCCLib(firstLine) {
		t.Fatalf("IsSDCCLib(%q) = false, want true", firstLine)
	}

	rest := strings.NewReader(archiveHeader[len(firstLine):])
	members, err := ParseIndex(rest, archivePath, int64(len(fullArchive)))
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].Symbols[0] != "_foo" || members[1].Symbols[0] != "_bar" {
		t.Fatalf("member symbols = %v, %v", members[0].Symbols, members[1].Symbols)
	}
	if members[0].Length != int64(len(fooText)) {
		t.Errorf("member[0].Length = %d, want %d", members[0].Length, len(fooText))
	}
	if members[1].Length != int64(len(barText)) {
		t.Errorf("member[1].Length = %d, want %d", members[1].Length, len(barText))
	}

	r, err := Open(members[1])
	if err != nil {
		t.Fatalf("Open(member[1]): %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != barText {
		t.Errorf("Open(member[1]) read %q, want %q", got, barText)
	}
}

func TestParsePlainListingDefaultsObjSuffix(t *testing.T) {
	names, err := ParsePlainListing(strings.NewReader("foo\nbar.rel\n\n"))
	if err != nil {
		t.Fatalf("ParsePlainListing: %v", err)
	}
	want := []string{"foo.rel", "bar.rel"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("ParsePlainListing = %v, want %v", names, want)
	}
}

func TestEnsureSuffixAndResolve(t *testing.T) {
	if got := EnsureSuffix("foo", ".lib"); got != "foo.lib" {
		t.Errorf("EnsureSuffix(foo) = %s, want foo.lib", got)
	}
	if got := EnsureSuffix("foo.lib", ".lib"); got != "foo.lib" {
		t.Errorf("EnsureSuffix(foo.lib) = %s, want unchanged", got)
	}

	dir := t.TempDir()
	libPath := filepath.Join(dir, "clib.lib")
	if err := os.WriteFile(libPath, []byte("<SDCCLIB>\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := Resolve("clib.lib", []string{dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != libPath {
		t.Errorf("Resolve found %s, want %s", got, libPath)
	}

	if _, err := Resolve("missing.lib", []string{dir}); err == nil {
		t.Errorf("Resolve(missing) should have failed")
	}
}

func TestEarlierLibraryWinsOnDuplicateSymbol(t *testing.T) {
	first := NewIndex()
	first.AddMember(Member{ArchivePath: "first.lib", Symbols: []string{"_helper"}})
	second := NewIndex()
	second.AddMember(Member{ArchivePath: "second.lib", Symbols: []string{"_helper"}})

	r := NewResolver()
	r.AddIndex(first)
	r.AddIndex(second)

	pulled := r.Resolve(func() []string { return []string{"_helper"} })
	if len(pulled) != 2 {
		t.Fatalf("expected both members with the same symbol to be offered, got %v", pulled)
	}
	if pulled[0].ArchivePath != "first.lib" {
		t.Errorf("first pulled member = %s, want first.lib to be offered first", pulled[0].ArchivePath)
	}
}
