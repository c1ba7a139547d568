// Command aslink links textual relocatable object files produced for the
// Sharp LR35902 (Gameboy) into Intel HEX, Motorola S19 or a raw cartridge
// ROM image, grounded on lang/yld/main.go's flag-parse-then-link shape but
// expressed through cobra/viper instead of the source's hand-rolled flag
// loop.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/codeout"
	"github.com/kattkieru/aslink-gb/internal/config"
	"github.com/kattkieru/aslink-gb/internal/linker"
	"github.com/kattkieru/aslink-gb/internal/linkctx"
	"github.com/kattkieru/aslink-gb/internal/mapfile"
	"github.com/kattkieru/aslink-gb/internal/objfmt"
	"github.com/kattkieru/aslink-gb/internal/symbol"
	"github.com/kattkieru/aslink-gb/internal/target"
	"github.com/kattkieru/aslink-gb/internal/target/gameboy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	outputBase        string
	libraries         []string
	librarySearchPath []string
	areaBases         []string
	globalOverrides   []string
	bankConfig        string
	projectFile     string
	formats         []string
	verbose         bool
	noColor         bool
	targetName      string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	registry := target.NewRegistry()
	registry.Register("gbz80", func() target.Description { return gameboy.New() })

	cmd := &cobra.Command{
		Use:   "aslink [flags] file...",
		Short: "link relocatable object files into a Gameboy ROM image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts, registry)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.outputBase, "output", "o", "a", "output file base name (without extension)")
	fs.StringArrayVarP(&opts.libraries, "library", "l", nil, "library file to resolve undefined symbols against (repeatable)")
	fs.StringArrayVarP(&opts.librarySearchPath, "lib-path", "k", nil, "directory to search for -l library files (repeatable)")
	fs.StringArrayVarP(&opts.areaBases, "base", "b", nil, "area base address override AREA=ADDR (repeatable)")
	fs.StringArrayVarP(&opts.globalOverrides, "global", "g", nil, "global symbol value override NAME=ADDR (repeatable)")
	fs.StringVar(&opts.bankConfig, "bank-config", "", "banking configuration file (AREA=ADDR per line)")
	fs.StringVarP(&opts.projectFile, "config", "c", "", "project configuration file (defaults to ./aslink.yaml if present)")
	fs.StringArrayVarP(&opts.formats, "format", "f", []string{"ihx"}, "output format: ihx, s19, gb (repeatable)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable informational logging")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored diagnostic output")
	fs.StringVarP(&opts.targetName, "target", "t", "gbz80", "target processor description")

	gb := registry.New("gbz80")
	gb.BindFlags(fs)

	return cmd
}

func run(cmd *cobra.Command, args []string, opts *cliOptions, registry *target.Registry) error {
	proj, err := config.Load(opts.projectFile)
	if err != nil {
		return err
	}
	if proj.Target != "" && !cmd.Flags().Changed("target") {
		opts.targetName = proj.Target
	}
	if proj.Verbose {
		opts.verbose = true
	}

	tgt := registry.New(opts.targetName)
	if tgt == nil {
		return fmt.Errorf("unknown target %q (available: %s)", opts.targetName, strings.Join(registry.Names(), ", "))
	}
	if err := tgt.Initialize(); err != nil {
		return err
	}
	defer tgt.Finalize()

	ctx := linkctx.New(tgt.IsCaseSensitive(), opts.verbose, !opts.noColor, os.Stderr)

	areaBases, err := parseAreaBases(opts.areaBases)
	if err != nil {
		return err
	}
	for name, addr := range proj.AreaBases {
		if _, overridden := areaBases[name]; !overridden {
			areaBases[name] = uint16(addr)
		}
	}
	if opts.bankConfig != "" {
		fileBases, err := config.LoadBankBases(opts.bankConfig)
		if err != nil {
			return err
		}
		for name, addr := range fileBases {
			if _, overridden := areaBases[name]; !overridden {
				areaBases[name] = addr
			}
		}
	}

	globalOverrides, err := parseGlobalOverrides(opts.globalOverrides)
	if err != nil {
		return err
	}
	for name, addr := range proj.GlobalOverrides {
		if _, overridden := globalOverrides[name]; !overridden {
			globalOverrides[name] = uint16(addr)
		}
	}

	drv := linker.Driver{}
	records, err := drv.Link(ctx, tgt, linker.Options{
		InputFiles:        args,
		LibraryFiles:      opts.libraries,
		LibrarySearchPath: opts.librarySearchPath,
		AreaBases:         areaBases,
		GlobalOverrides:   globalOverrides,
	})
	if err != nil {
		return fmt.Errorf("link failed: %w", err)
	}
	if ctx.HasErrors() {
		return fmt.Errorf("link failed with %d error(s)", ctx.ErrorCount)
	}

	if err := writeCodeOutputs(opts, records); err != nil {
		return err
	}
	if err := writeMapFile(ctx, opts, args, areaBases, globalOverrides); err != nil {
		return err
	}

	if ctx.WarningCount > 0 {
		os.Exit(2)
	}
	return nil
}

func parseAreaBases(specs []string) (map[string]uint16, error) {
	bases := make(map[string]uint16)
	for _, spec := range specs {
		name, valueText, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("malformed -b override %q, want AREA=ADDR", spec)
		}
		value, err := strconv.ParseUint(strings.TrimSpace(valueText), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("malformed -b override %q: %w", spec, err)
		}
		bases[strings.TrimSpace(name)] = uint16(value)
	}
	return bases, nil
}

// parseGlobalOverrides parses the repeatable "-g NAME=ADDR" option, sharing
// the same value-map grammar as the banking configuration file (§12).
func parseGlobalOverrides(specs []string) (map[string]uint16, error) {
	overrides := make(map[string]uint16)
	for _, spec := range specs {
		err := objfmt.ParseValueMap(spec, 16, func(name string, value int64) {
			overrides[name] = uint16(value)
		})
		if err != nil {
			return nil, fmt.Errorf("malformed -g override: %w", err)
		}
	}
	return overrides, nil
}

func writeCodeOutputs(opts *cliOptions, records []codeout.Record) error {
	for _, format := range opts.formats {
		var enc codeout.Encoder
		var ext string
		switch format {
		case "ihx":
			enc, ext = codeout.IntelHex{}, ".ihx"
		case "s19":
			enc, ext = codeout.MotorolaS19{}, ".s19"
		case "gb":
			enc, ext = &codeout.GameboyImage{ImageSize: 0x8000}, ".gb"
		default:
			return fmt.Errorf("unknown output format %q", format)
		}

		f, err := os.Create(opts.outputBase + ext)
		if err != nil {
			return err
		}
		err = codeout.WriteAll(f, enc, records)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

func writeMapFile(ctx *linkctx.Context, opts *cliOptions, linkFiles []string, areaBases, globalOverrides map[string]uint16) error {
	areaByName := make(map[string]mapfile.AreaSummary)
	var areas []mapfile.AreaSummary
	for _, a := range ctx.Areas.All() {
		attr := mapfile.AreaAttr(0)
		if a.Attr.Has(area.Absolute) {
			attr |= mapfile.AttrAbsolute
		}
		if a.Attr.Has(area.Overlayed) {
			attr |= mapfile.AttrOverlayed
		}
		if a.Attr.Has(area.Paged) {
			attr |= mapfile.AttrPaged
		}
		memoryPage := uint8(0)
		if a.Bank >= 0 {
			memoryPage = uint8(a.Bank)
		}
		summary := mapfile.AreaSummary{
			Name:       a.Name(),
			Bank:       a.Bank,
			Start:      a.StartAddress(),
			Size:       a.Size(),
			Attr:       attr,
			MemoryPage: memoryPage,
		}
		areas = append(areas, summary)
		areaByName[a.Name()] = summary
	}

	var symbols []mapfile.SymbolEntry
	for _, sym := range ctx.Symbols.All() {
		areaName := "(global)"
		if sym.DefiningSegment != nil {
			areaName = sym.DefiningSegment.Name()
		} else if !sym.Flags.Has(symbol.Defined) {
			continue
		}
		symbols = append(symbols, mapfile.SymbolEntry{
			Name:       sym.Name(),
			Address:    sym.AbsoluteAddress(),
			AreaName:   areaName,
			MemoryPage: areaByName[areaName].MemoryPage,
		})
	}

	var modules []mapfile.ModuleSummary
	for _, mod := range ctx.Modules.All() {
		modules = append(modules, mapfile.ModuleSummary{Name: mod.Name, FileName: mod.FileName})
	}

	var undefined []mapfile.UndefinedSymbol
	for _, u := range linker.CollectUndefined(ctx) {
		undefined = append(undefined, mapfile.UndefinedSymbol{Name: u.Name, ReferencedBy: u.ReferencedBy})
	}

	manifest := mapfile.Manifest{
		Radix:           16,
		Areas:           areas,
		Symbols:         symbols,
		Modules:         modules,
		LinkFiles:       linkFiles,
		Libraries:       opts.libraries,
		BaseOverrides:   areaBases,
		GlobalOverrides: globalOverrides,
		Undefined:       undefined,
	}

	mapOut, err := os.Create(opts.outputBase + ".map")
	if err != nil {
		return err
	}
	defer mapOut.Close()
	if err := (mapfile.Standard{}).Write(mapOut, manifest); err != nil {
		return err
	}

	noiceOut, err := os.Create(opts.outputBase + ".noi")
	if err != nil {
		return err
	}
	defer noiceOut.Close()
	return (mapfile.NoICE{}).Write(noiceOut, manifest)
}
