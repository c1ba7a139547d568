// Package linkctx threads the Area/Module/Symbol stores and the diagnostic
// sink through the whole pipeline as a single value, replacing the
// process-wide globals the original linker kept (Design Notes §9 "Global
// state"). cmd/aslink constructs exactly one Context per invocation.
package linkctx

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"

	"github.com/kattkieru/aslink-gb/internal/area"
	"github.com/kattkieru/aslink-gb/internal/module"
	"github.com/kattkieru/aslink-gb/internal/objfmt"
	"github.com/kattkieru/aslink-gb/internal/symbol"
)

// Fatal marks an error that would have been an exit(1) in the source: a
// condition the pipeline cannot recover from and that unwinds straight back
// to cmd/aslink's main without further processing. Everywhere else, errors
// are handled (accumulated as diagnostics) rather than propagated as Fatal.
type Fatal struct{ Err error }

func (f *Fatal) Error() string { return f.Err.Error() }
func (f *Fatal) Unwrap() error { return f.Err }

// NewFatal builds a Fatal from a format string, in the style of fmt.Errorf.
func NewFatal(format string, args ...any) *Fatal {
	return &Fatal{Err: fmt.Errorf(format, args...)}
}

// Context owns every store needed across the two passes plus the
// diagnostic sink (§7's "mirrored to every open map file" requirement).
type Context struct {
	Areas   *area.Store
	Modules *module.Store
	Symbols *symbol.Table
	Log     *slog.Logger

	// CompilerOpts remembers the first "O" line seen across every parsed
	// file, so a later, differing one can be flagged (§4.2).
	CompilerOpts objfmt.CompilerOptions

	Verbose bool

	WarningCount int
	ErrorCount   int

	stderr     io.Writer
	useColor   bool
	mapMirrors []io.Writer
}

// New creates a Context. caseSensitive and the initial logger configuration
// come from the selected target.Description and the parsed CLI flags.
func New(caseSensitive, verbose, useColor bool, stderr io.Writer) *Context {
	c := &Context{
		Areas:    area.NewStore(),
		Modules:  module.NewStore(),
		Symbols:  symbol.NewTable(caseSensitive),
		Verbose:  verbose,
		stderr:   stderr,
		useColor: useColor,
	}
	c.rebuildLogger()
	return c
}

// AddMapMirror registers an additional writer (an open map file) that every
// subsequent diagnostic is duplicated to, plain-text and uncolored.
func (c *Context) AddMapMirror(w io.Writer) {
	c.mapMirrors = append(c.mapMirrors, w)
	c.rebuildLogger()
}

func (c *Context) rebuildLogger() {
	level := slog.LevelWarn
	if c.Verbose {
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{newConsoleHandler(c.stderr, level, c.useColor)}
	for _, w := range c.mapMirrors {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	c.Log = slog.New(slogmulti.Fanout(handlers...))
}

func newConsoleHandler(w io.Writer, level slog.Level, useColor bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || !useColor {
				return a
			}
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			text := lvl.String()
			switch {
			case lvl >= slog.LevelError:
				text = color.RedString(text)
			case lvl >= slog.LevelWarn:
				text = color.YellowString(text)
			default:
				text = color.CyanString(text)
			}
			a.Value = slog.StringValue(text)
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}

// Warnf records a warning, bumping WarningCount (§7's exit-code-2 tally).
func (c *Context) Warnf(format string, args ...any) {
	c.WarningCount++
	c.Log.Warn(fmt.Sprintf(format, args...))
}

// Errorf records an error, bumping ErrorCount (§7's exit-code-1 tally).
func (c *Context) Errorf(format string, args ...any) {
	c.ErrorCount++
	c.Log.Error(fmt.Sprintf(format, args...))
}

// Infof records an informational message, only visible with --verbose.
func (c *Context) Infof(format string, args ...any) {
	c.Log.Info(fmt.Sprintf(format, args...))
}

// HasErrors reports whether any Errorf call has been made.
func (c *Context) HasErrors() bool { return c.ErrorCount > 0 }
