package mapfile

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NoICE is the NoICE debugger's symbol-file dialect, grounded on
// noicemapfile.c: it walks every area's symbols in address order and
// pattern-matches SDCC's dot-mangled debug names into FILE/FUNC/SFUNC/
// ENDF/DEF/DEFS/LINE directives instead of printing the mangled name
// directly.
type NoICE struct{}

const (
	globalFuncSuffix = ".FN"
	staticFuncSuffix = ".SFN"
	endOfFuncSuffix  = ".EFN"
)

// noiceState tracks NoICEMapFile__currentFile/currentFunction: a FILE or
// FUNC/SFUNC directive is only emitted when the name actually changes, so
// consecutive symbols in the same file/function don't repeat it.
type noiceState struct {
	currentFile     string
	currentFunction string
}

func (NoICE) Write(w io.Writer, m Manifest) error {
	st := &noiceState{}
	for _, a := range m.Areas {
		for _, s := range sortedSymbols(areaSymbols(m.Symbols, a.Name)) {
			if err := st.processSymbol(w, s.Name, s.Address, s.MemoryPage); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteSpecialComment implements NoICEMapFile_addSpecialComment: a
// ";!"-prefixed source comment is passed through to the map file verbatim,
// with the prefix stripped.
func WriteSpecialComment(w io.Writer, comment string) error {
	const prefix = ";!"
	if !strings.HasPrefix(comment, prefix) {
		return nil
	}
	_, err := io.WriteString(w, strings.TrimPrefix(comment, prefix))
	return err
}

// processSymbol implements NoICEMapFile__processSymbol's dot-counting
// dispatch over SDCC's mangled debug-symbol names:
//
//   - no dot: a plain global or static symbol -> DEF/DEFS.
//   - one dot ("file.suffix"): a FILE marker, then either a LINE record
//     (suffix starts with a digit, i.e. "file.123") or a static DEFS for
//     "suffix" itself.
//   - two-plus dots ("file.function.suffix..."): a FUNC/SFUNC marker, then
//     either an ENDF/DEF dispatch on a trailing "..FN"/"..SFN"/"..EFN", or a
//     bare function definition with an optional numeric block-nesting level
//     appended to the file token.
func (st *noiceState) processSymbol(w io.Writer, name string, address uint16, page uint8) error {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return st.writeDefForSymbol(w, name, false, address, page)
	}

	fileToken, suffix := name[:dot], name[dot+1:]

	if err := st.writeDefForFile(w, fileToken); err != nil {
		return err
	}

	dot2 := strings.IndexByte(suffix, '.')
	if dot2 < 0 {
		// "file.suffix": either a line number or a static file-local symbol.
		if len(suffix) > 0 && suffix[0] >= '0' && suffix[0] <= '9' {
			return st.writeDefForLine(w, suffix, address, page)
		}
		if err := st.writeFunctionEnd(w, 0, 0); err != nil {
			return err
		}
		return st.writeDefForSymbol(w, suffix, true, address, page)
	}

	// "file.function.rest": split at the dot following the function name.
	functionToken, rest := suffix[:dot2], suffix[dot2+1:]

	if len(rest) > 0 && rest[0] == '.' {
		// "file.function..FN"/"..SFN"/"..EFN": a function boundary marker.
		switch rest {
		case globalFuncSuffix:
			return st.writeDefForFunction(w, functionToken, false, address, page)
		case staticFuncSuffix:
			return st.writeDefForFunction(w, functionToken, true, address, page)
		case endOfFuncSuffix:
			return st.writeFunctionEnd(w, address, page)
		}
		return nil
	}

	// "file.function.symbol" or "file.function.level.N": a block-local
	// symbol, recorded against the file (with an optional "_N" nesting-level
	// suffix), not against the text following the function name.
	if err := st.writeDefForFunction(w, functionToken, false, 0, 0); err != nil {
		return err
	}
	if dot3 := strings.IndexByte(rest, '.'); dot3 >= 0 {
		if level, err := strconv.ParseInt(rest[dot3+1:], 10, 64); err == nil && level > 0 {
			fileToken = fmt.Sprintf("%s_%d", fileToken, level)
		}
	}
	return st.writeDefForSymbol(w, fileToken, true, address, page)
}

// appendPagedAddress implements NoICEMapFile__appendPagedAddress: always a
// leading space, the page in hex (0 for an unpaged area), ":0x", the address
// in hex — neither field zero-padded.
func appendPagedAddress(b *strings.Builder, address uint16, page uint8) {
	fmt.Fprintf(b, " %X:0x%X", page, address)
}

func (st *noiceState) writeDefForFile(w io.Writer, fileName string) error {
	if fileName == st.currentFile {
		return nil
	}
	st.currentFile = fileName
	_, err := fmt.Fprintf(w, "FILE %s\n", fileName)
	return err
}

func (st *noiceState) writeDefForFunction(w io.Writer, functionName string, isStatic bool, address uint16, page uint8) error {
	if functionName == st.currentFunction {
		return nil
	}
	st.currentFunction = functionName

	var b strings.Builder
	if address != 0 {
		defCommand := "DEF "
		if isStatic {
			defCommand = "DEFS "
		}
		b.WriteString(defCommand)
		b.WriteString(functionName)
		appendPagedAddress(&b, address, page)
		b.WriteByte('\n')
	}

	funcCommand := "FUNC "
	if isStatic {
		funcCommand = "SFUNC "
	}
	b.WriteString(funcCommand)
	b.WriteString(functionName)
	if address != 0 {
		appendPagedAddress(&b, address, page)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func (st *noiceState) writeDefForLine(w io.Writer, lineNumberText string, address uint16, page uint8) error {
	lineNumber, err := strconv.ParseInt(lineNumberText, 10, 64)
	if err != nil {
		return fmt.Errorf("bad NoICE line number %q: %w", lineNumberText, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "LINE %d", lineNumber)
	appendPagedAddress(&b, address, page)
	b.WriteByte('\n')
	_, err = io.WriteString(w, b.String())
	return err
}

func (st *noiceState) writeDefForSymbol(w io.Writer, symbolName string, isStatic bool, address uint16, page uint8) error {
	defCommand := "DEF "
	if isStatic {
		defCommand = "DEFS "
	}
	var b strings.Builder
	b.WriteString(defCommand)
	b.WriteString(symbolName)
	appendPagedAddress(&b, address, page)
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func (st *noiceState) writeFunctionEnd(w io.Writer, address uint16, page uint8) error {
	if st.currentFunction == "" {
		return nil
	}
	st.currentFunction = ""

	var b strings.Builder
	b.WriteString("ENDF")
	if address != 0 {
		appendPagedAddress(&b, address, page)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
