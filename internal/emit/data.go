package emit

import (
	"fmt"

	"harden/internal/elfx"
)

// data writes the permuted data region and rewrites the dynamic
// relocations that refer to moved objects: the slot of any entry inside a
// moved object moves with it, and RELATIVE addends that point into a moved
// object follow it.
func (w *writer) data() error {
	region := w.prog.Data
	if region == nil || !region.Moved() {
		return nil
	}
	dst, ok := w.slice(region.Address, uint64(len(region.Bytes)))
	if !ok {
		return fmt.Errorf("%s at %#x: not mapped", region.Name, region.Address)
	}
	copy(dst, region.Rebuild())

	for _, r := range w.im.Relocs {
		changed := false
		if off := region.Translate(r.Offset); off != r.Offset {
			r.Offset = off
			changed = true
		}
		if r.IsRelative() {
			if addend := region.Translate(uint64(r.Addend)); addend != uint64(r.Addend) {
				r.Addend = int64(addend)
				changed = true
			}
		}
		if !changed {
			continue
		}
		at := w.im.Rela.Off + uint64(r.Index*elfx.RelaSize)
		if at+elfx.RelaSize > uint64(len(w.buf)) {
			return fmt.Errorf("relocation %d outside the file", r.Index)
		}
		r.Encode(w.buf[at:])
		w.res.Relocations++
	}
	w.opts.Logger.Debug("permuted data", "region", region.Name, "relocations", w.res.Relocations)
	return nil
}
