package emit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"
)

// Offsets into the ELF64 header.
const (
	ehdrPhoff = 32
	ehdrPhnum = 56
	phdrSize  = 56
)

// addSegment maps code at vaddr from file offset off. The last PT_NOTE
// header becomes the new PT_LOAD and is moved after the other PT_LOADs,
// which must stay sorted by address.
func (w *writer) addSegment(vaddr, off uint64, code []byte) error {
	note := w.im.Notes[len(w.im.Notes)-1]

	phoff := binary.LittleEndian.Uint64(w.buf[ehdrPhoff:])
	phnum := int(binary.LittleEndian.Uint16(w.buf[ehdrPhnum:]))
	table := w.buf[phoff : phoff+uint64(phnum*phdrSize)]

	progs := make([]elf.Prog64, phnum)
	if err := binary.Read(bytes.NewReader(table), binary.LittleEndian, progs); err != nil {
		return fmt.Errorf("program headers: %w", err)
	}

	seg := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    off,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  w.opts.SegmentAlign,
	}
	progs = slices.Delete(progs, note.Index, note.Index+1)
	at := 0
	for i, p := range progs {
		if elf.ProgType(p.Type) == elf.PT_LOAD {
			at = i + 1
		}
	}
	progs = slices.Insert(progs, at, seg)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, progs); err != nil {
		return fmt.Errorf("program headers: %w", err)
	}
	copy(table, out.Bytes())

	if pad := int(off) - len(w.buf); pad > 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
	w.buf = append(w.buf[:off], code...)

	w.res.Segment = vaddr
	w.res.SegmentSize = uint64(len(code))
	w.opts.Logger.Debug("added segment", "vaddr", vaddr, "offset", off, "size", len(code))
	return nil
}
