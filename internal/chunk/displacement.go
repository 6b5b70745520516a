package chunk

import (
	"encoding/binary"
	"fmt"
	"math"
)

// fitsSigned reports whether v is representable as a signed integer of
// width bytes.
func fitsSigned(v int64, width int) bool {
	switch width {
	case 1:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case 2:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case 4:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case 8:
		return true
	}
	return false
}

// putDisplacement stores v little-endian in exactly width bytes of b.
func putDisplacement(b []byte, width int, v int64) error {
	if !fitsSigned(v, width) {
		return fmt.Errorf("%d in %d bytes: %w", v, width, ErrDisplacementOverflow)
	}
	switch width {
	case 1:
		b[0] = byte(int8(v))
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
	return nil
}

// ReadDisplacement decodes a signed little-endian displacement of width
// bytes from b.
func ReadDisplacement(b []byte, width int) int64 {
	switch width {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// relative computes target - (source address + size) for ins.
func relative(ins *Instruction, size int, link Link) (int64, error) {
	if link == nil {
		return 0, fmt.Errorf("no link: %w", ErrUnresolvedTarget)
	}
	target, ok := link.Target()
	if !ok {
		return 0, fmt.Errorf("link %v: %w", link, ErrUnresolvedTarget)
	}
	if ins == nil {
		return 0, fmt.Errorf("detached instruction: %w", ErrUnresolvedTarget)
	}
	addr, ok := ins.Address()
	if !ok {
		return 0, fmt.Errorf("instruction %s has no address: %w", ins, ErrUnresolvedTarget)
	}
	return int64(target) - int64(addr+uint64(size)), nil
}
