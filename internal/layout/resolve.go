package layout

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"harden/internal/chunk"
	"harden/internal/logging"
)

// ErrNonConvergence is returned when resolution exceeds its pass bound.
var ErrNonConvergence = errors.New("displacement resolution did not converge")

// Stats summarizes a resolution run.
type Stats struct {
	Passes      int
	Escalations int
	ControlFlow int
}

// Resolver runs the fixpoint over control-flow sizes. Each pass lays the
// program out from the current sizes and grows every branch whose
// displacement no longer fits. Sizes never shrink, so the number of
// changing passes is bounded by the total number of class transitions
// still available; one more pass confirms the fixpoint.
type Resolver struct {
	// MaxPasses caps the pass bound when positive.
	MaxPasses int

	// OnPass is called after every pass with the pass number (from 1) and
	// the number of instructions grown in it.
	OnPass func(pass, changed int)

	Logger *logging.LoggerCloser
}

type group struct {
	name string
	ins  []*chunk.Instruction
	cfs  []*chunk.ControlFlow
}

// Resolve lays out prog with l until every control-flow displacement fits
// its size class. The set of instructions must not change while it runs.
func (r *Resolver) Resolve(ctx context.Context, prog *chunk.Program, l Layouter) (Stats, error) {
	var stats Stats

	groups := make([]group, 0, len(prog.Functions()))
	transitions := 0
	for _, fn := range prog.Functions() {
		g := group{name: fn.Name}
		for ins := range fn.Instructions() {
			cf, ok := ins.Semantic().(*chunk.ControlFlow)
			if !ok {
				continue
			}
			g.ins = append(g.ins, ins)
			g.cfs = append(g.cfs, cf)
			transitions += cf.Branch().Transitions(cf.Class())
		}
		if len(g.cfs) > 0 {
			groups = append(groups, g)
		}
		stats.ControlFlow += len(g.cfs)
	}

	bound := 1 + transitions
	if r.MaxPasses > 0 && r.MaxPasses < bound {
		bound = r.MaxPasses
	}
	r.debug("resolving", "control-flow", stats.ControlFlow, "transitions", transitions, "bound", bound)

	for pass := 1; pass <= bound; pass++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := l.Layout(prog); err != nil {
			return stats, fmt.Errorf("layout pass %d: %w", pass, err)
		}
		stats.Passes = pass

		changed, err := r.grow(ctx, groups)
		stats.Escalations += changed
		if err != nil {
			return stats, fmt.Errorf("pass %d: %w", pass, err)
		}
		if r.OnPass != nil {
			r.OnPass(pass, changed)
		}
		r.debug("pass", "n", pass, "grown", changed)
		if changed == 0 {
			return stats, nil
		}
	}
	return stats, fmt.Errorf("%d passes, %d escalations: %w", stats.Passes, stats.Escalations, ErrNonConvergence)
}

// grow checks every displacement against the addresses of the current
// pass, one goroutine per function. Growing only touches the branch's own
// state; addresses are recomputed by the next layout.
func (r *Resolver) grow(ctx context.Context, groups []group) (int, error) {
	var changed atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	for _, g := range groups {
		eg.Go(func() error {
			for i, cf := range g.cfs {
				if err := ctx.Err(); err != nil {
					return err
				}
				disp, err := cf.Displacement()
				if err != nil {
					return fmt.Errorf("%s: %w", g.name, err)
				}
				if cf.Fits(disp) {
					continue
				}
				if err := cf.Grow(); err != nil {
					return fmt.Errorf("%s: %s displacement %d: %w", g.name, g.ins[i], disp, err)
				}
				changed.Add(1)
				r.debug("escalated", "insn", g.ins[i], "size", cf.Size())
			}
			return nil
		})
	}
	err := eg.Wait()
	return int(changed.Load()), err
}

func (r *Resolver) debug(msg string, keyvals ...any) {
	if r.Logger != nil {
		r.Logger.Debug(msg, keyvals...)
	}
}
