// Package harden drives a hardening session: parse an ELF image into a
// chunk tree, apply the configured policies, then lay out and write the
// result.
package harden

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"harden/internal/addrmap"
	"harden/internal/chunk"
	"harden/internal/config"
	"harden/internal/elfx"
	"harden/internal/emit"
	"harden/internal/layout"
	"harden/internal/loader"
	"harden/internal/logging"
	"harden/internal/pass"
)

// ErrNotParsed is returned by operations that need a parsed program.
var ErrNotParsed = errors.New("no program parsed")

// App is one session. It is not safe for concurrent use.
type App struct {
	cfg    config.Config
	logger *logging.LoggerCloser

	input    string
	output   string
	oneToOne bool
	im       *elfx.Image
	prog     *chunk.Program

	loaded  loader.Stats
	applied []string
	result  *emit.Result
}

// New returns a session. A nil logger discards diagnostics; Quiet in cfg
// raises the logger to error level.
func New(cfg config.Config, logger *logging.LoggerCloser) *App {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Quiet {
		logger.Quiet()
	}
	return &App{cfg: cfg, logger: logger, oneToOne: cfg.OneToOne}
}

// Parse opens filename and builds its program. The previous image, if
// any, is released only once the new one has loaded; on error the session
// keeps its previous state.
func (a *App) Parse(filename string, oneToOne bool) error {
	im, err := elfx.Open(filename)
	if err != nil {
		return err
	}
	l := loader.New(a.logger)
	prog, err := l.Load(im)
	if err != nil {
		im.Close()
		return err
	}

	if err := a.Close(); err != nil {
		a.logger.Warn("closing previous image", "err", err)
	}
	a.input = filename
	a.oneToOne = oneToOne
	a.im = im
	a.prog = prog
	a.loaded = l.Stats()
	a.applied = nil
	a.result = nil
	a.logger.Info("parsed", "file", filename, "functions", a.loaded.Functions, "instructions", a.loaded.Instructions)
	return nil
}

// Program returns the parsed program, or nil.
func (a *App) Program() *chunk.Program { return a.prog }

func (a *App) apply(p pass.Pass, label string) error {
	if a.prog == nil || a.im == nil {
		return ErrNotParsed
	}
	if err := pass.Apply(a.prog, a.logger, p); err != nil {
		return err
	}
	a.applied = append(a.applied, label)
	return nil
}

// ApplyCFI inserts endbr64 landing pads at function entries.
func (a *App) ApplyCFI() error {
	cfi := &pass.CFI{}
	if err := a.apply(cfi, "cfi"); err != nil {
		return err
	}
	a.logger.Info("cfi", "pads", cfi.Inserted)
	return nil
}

// ApplyShadowStack instruments entries and returns. gsMode keeps the
// shadow stack pointer at gs:[0] instead of a constant offset from rsp.
func (a *App) ApplyShadowStack(gsMode bool) error {
	ss := &pass.ShadowStack{Mode: pass.ShadowConst}
	if gsMode {
		ss.Mode = pass.ShadowGS
	}
	if err := a.apply(ss, "shadow-stack ("+string(ss.Mode)+")"); err != nil {
		return err
	}
	a.logger.Info("shadow stack", "mode", ss.Mode, "functions", ss.Functions, "returns", ss.Returns)
	return nil
}

// ApplyPermuteData shuffles .data objects using the configured seed.
func (a *App) ApplyPermuteData() error {
	p := &pass.PermuteData{Seed: a.cfg.Seed}
	if err := a.apply(p, "permute-data"); err != nil {
		return err
	}
	a.logger.Info("permuted data", "moved", p.Moved, "seed", a.cfg.Seed)
	return nil
}

// Generate lays out the program and writes it to filename.
func (a *App) Generate(ctx context.Context, filename string, oneToOne bool) error {
	if a.prog == nil || a.im == nil {
		return ErrNotParsed
	}
	a.output = filename
	a.oneToOne = oneToOne

	opts := emit.Options{
		OneToOne:     oneToOne,
		CFI:          slices.Contains(a.applied, "cfi"),
		Align:        a.cfg.Align,
		SegmentAlign: a.cfg.SegmentAlign,
		MaxPasses:    a.cfg.MaxPasses,
		Logger:       a.logger,
	}
	res, err := emit.Write(ctx, a.im, a.prog, filename, opts)
	if errors.Is(err, layout.ErrNonConvergence) && len(a.applied) > 0 {
		return fmt.Errorf("after %s: %w", strings.Join(a.applied, ", "), err)
	}
	if err != nil {
		return err
	}
	a.result = res
	for _, name := range res.Skipped {
		a.logger.Warn("no trampoline", "function", name)
	}
	a.logger.Info("generated", "file", filename,
		"passes", res.Layout.Passes, "escalations", res.Layout.Escalations)

	if a.cfg.Map != "" {
		m := addrmap.FromProgram(a.prog, a.input, filename)
		if err := m.Write(a.cfg.Map); err != nil {
			return err
		}
		a.logger.Debug("wrote address map", "path", a.cfg.Map, "entries", len(m.Entries))
	}
	return nil
}

// Run parses in, applies the policies selected by the configuration and
// writes out.
func (a *App) Run(ctx context.Context, in, out string) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := a.Parse(in, a.cfg.OneToOne); err != nil {
		return err
	}
	if a.cfg.PermuteData {
		if err := a.ApplyPermuteData(); err != nil {
			return err
		}
	}
	if a.cfg.ShadowStackEnabled() {
		if err := a.ApplyShadowStack(a.cfg.ShadowStack == config.ShadowGS); err != nil {
			return err
		}
	}
	// CFI last, so the pad precedes any prologue.
	if a.cfg.CFI {
		if err := a.ApplyCFI(); err != nil {
			return err
		}
	}
	return a.Generate(ctx, out, a.cfg.OneToOne)
}

// Close releases the parsed image. The program goes with it.
func (a *App) Close() error {
	a.prog = nil
	if a.im == nil {
		return nil
	}
	err := a.im.Close()
	a.im = nil
	return err
}
