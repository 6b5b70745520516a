// Package addrmap records where every function of a rewritten image went.
// Maps are stored as canonical CBOR so the same rewrite always produces the
// same file.
package addrmap

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"harden/internal/chunk"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("addrmap: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Entry is one function. Old is 0 for synthesized functions.
type Entry struct {
	Function string `cbor:"function"`
	Old      uint64 `cbor:"old"`
	New      uint64 `cbor:"new"`
	Size     uint64 `cbor:"size"`
}

// Map is the sidecar for one rewrite.
type Map struct {
	Input   string  `cbor:"input"`
	Output  string  `cbor:"output"`
	Entries []Entry `cbor:"entries"`
}

// FromProgram builds the map of a laid out program.
func FromProgram(prog *chunk.Program, input, output string) *Map {
	m := &Map{Input: input, Output: output}
	for _, fn := range prog.Functions() {
		addr, ok := fn.Address()
		if !ok {
			continue
		}
		m.Entries = append(m.Entries, Entry{
			Function: fn.Name,
			Old:      fn.OriginalAddress,
			New:      addr,
			Size:     uint64(fn.Size()),
		})
	}
	return m
}

// Lookup returns the entry of the function that started at addr in the
// input image.
func (m *Map) Lookup(addr uint64) (Entry, bool) {
	for _, e := range m.Entries {
		if addr != 0 && e.Old == addr {
			return e, true
		}
	}
	return Entry{}, false
}

func Marshal(m *Map) ([]byte, error) {
	return encMode.Marshal(m)
}

func Unmarshal(data []byte) (*Map, error) {
	var m Map
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("addrmap: unmarshal: %w", err)
	}
	return &m, nil
}

// Write stores m at path.
func (m *Map) Write(path string) error {
	data, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("addrmap: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Read loads a map written by Write.
func Read(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
