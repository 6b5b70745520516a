package pass

import (
	"math/bits"
	"math/rand/v2"

	"harden/internal/chunk"
)

// PermuteData shuffles the objects of the program's data region. Objects
// only trade places with objects of the same size and alignment, so the
// bytes between objects never move and every slot stays aligned.
//
// Code follows the objects through DataLinks. Pointers stored in data are
// fixed up from the dynamic relocations when the image is written; Run
// returns ErrNotPIE for images that have none.
type PermuteData struct {
	Seed uint64

	// Moved counts the objects given a new address by the last Run.
	Moved int
}

func (*PermuteData) Name() string { return "permute-data" }

type slotKey struct {
	size  uint64
	align uint64
}

func (p *PermuteData) Run(prog *chunk.Program) error {
	if !prog.PIE {
		return ErrNotPIE
	}
	p.Moved = 0
	region := prog.Data
	if region == nil || len(region.Objects) < 2 {
		return nil
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	groups := make(map[slotKey][]*chunk.DataObject)
	var order []slotKey
	for _, o := range region.Objects {
		k := slotKey{size: o.Size, align: alignment(o.OriginalAddress)}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], o)
	}

	for _, k := range order {
		objs := groups[k]
		if len(objs) < 2 {
			continue
		}
		slots := make([]uint64, len(objs))
		for i, o := range objs {
			slots[i] = o.OriginalAddress
		}
		for i, j := range rng.Perm(len(objs)) {
			objs[i].SetAddress(slots[j])
			if slots[j] != objs[i].OriginalAddress {
				p.Moved++
			}
		}
	}
	return nil
}

// alignment returns the natural alignment of addr, capped at 16.
func alignment(addr uint64) uint64 {
	if addr == 0 {
		return 16
	}
	return min(16, uint64(1)<<bits.TrailingZeros64(addr))
}
