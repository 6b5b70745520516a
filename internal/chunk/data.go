package chunk

import "slices"

// DataObject is a symbol inside a data region. Its address changes when
// the region is permuted; DataLinks follow it.
type DataObject struct {
	Name            string
	OriginalAddress uint64
	Size            uint64

	address uint64
	moved   bool
}

// NewDataObject returns an object at its original address.
func NewDataObject(name string, addr, size uint64) *DataObject {
	return &DataObject{Name: name, OriginalAddress: addr, Size: size}
}

// Address returns the current address of the object.
func (o *DataObject) Address() uint64 {
	if o.moved {
		return o.address
	}
	return o.OriginalAddress
}

func (o *DataObject) SetAddress(addr uint64) {
	o.address = addr
	o.moved = true
}

// Contains reports whether addr falls inside the object's original extent.
func (o *DataObject) Contains(addr uint64) bool {
	return addr >= o.OriginalAddress && addr < o.OriginalAddress+o.Size
}

// DataRegion is a contiguous section of initialized data, usually .data.
type DataRegion struct {
	Name    string
	Address uint64
	Bytes   []byte
	Objects []*DataObject
}

// End returns the address just past the region.
func (r *DataRegion) End() uint64 { return r.Address + uint64(len(r.Bytes)) }

// ObjectAt returns the object whose original extent contains addr.
func (r *DataRegion) ObjectAt(addr uint64) (*DataObject, bool) {
	i, found := slices.BinarySearchFunc(r.Objects, addr, func(o *DataObject, a uint64) int {
		switch {
		case o.OriginalAddress+o.Size <= a:
			return -1
		case o.OriginalAddress > a:
			return 1
		}
		return 0
	})
	if !found {
		return nil, false
	}
	return r.Objects[i], true
}

// Translate maps an original address inside the region to its current
// address. Addresses outside every object are unchanged.
func (r *DataRegion) Translate(addr uint64) uint64 {
	o, ok := r.ObjectAt(addr)
	if !ok {
		return addr
	}
	return o.Address() + (addr - o.OriginalAddress)
}

// Moved reports whether any object has been given a new address.
func (r *DataRegion) Moved() bool {
	for _, o := range r.Objects {
		if o.Address() != o.OriginalAddress {
			return true
		}
	}
	return false
}

// Rebuild returns the region contents with every object's bytes copied
// to its current address. Bytes outside objects keep their position.
func (r *DataRegion) Rebuild() []byte {
	out := slices.Clone(r.Bytes)
	for _, o := range r.Objects {
		if o.Address() == o.OriginalAddress {
			continue
		}
		from := o.OriginalAddress - r.Address
		to := o.Address() - r.Address
		copy(out[to:to+o.Size], r.Bytes[from:from+o.Size])
	}
	return out
}
