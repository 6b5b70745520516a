package addrmap

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"harden/internal/layout"
	"harden/internal/loader"
)

func TestFromProgram(t *testing.T) {
	code := []byte{
		0x55, 0x5d, 0xc3, // f
		0xc3, // g
	}
	prog, err := loader.New(nil).FromCode(code, 0x1000, nil,
		loader.Func{Name: "f", Size: 3},
		loader.Func{Name: "g", Offset: 3, Size: 1},
	)
	if err != nil {
		t.Fatal(err)
	}
	var r layout.Resolver
	if _, err := r.Resolve(context.Background(), prog, layout.Sequential{Base: 0x8000, Align: 16}); err != nil {
		t.Fatal(err)
	}

	m := FromProgram(prog, "in", "out")
	want := []Entry{
		{Function: "f", Old: 0x1000, New: 0x8000, Size: 3},
		{Function: "g", Old: 0x1003, New: 0x8010, Size: 1},
	}
	if !reflect.DeepEqual(m.Entries, want) {
		t.Errorf("Entries = %+v, want %+v", m.Entries, want)
	}

	e, ok := m.Lookup(0x1003)
	if !ok || e.Function != "g" {
		t.Errorf("Lookup(0x1003) = %+v, %v", e, ok)
	}
	if _, ok := m.Lookup(0x1001); ok {
		t.Error("Lookup matched an address inside f")
	}
}

func TestWriteRead(t *testing.T) {
	m := &Map{
		Input:  "a.out",
		Output: "a.hardened",
		Entries: []Entry{
			{Function: "main", Old: 0x401000, New: 0x405000, Size: 42},
			{Function: "__harden_ss_violation", New: 0x405030, Size: 2},
		},
	}
	path := filepath.Join(t.TempDir(), "map.cbor")
	if err := m.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("Read = %+v, want %+v", got, m)
	}
}

func TestCanonical(t *testing.T) {
	m := &Map{Input: "x", Entries: []Entry{{Function: "f", Old: 1, New: 2, Size: 3}}}
	a, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Marshal(m)
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
	if _, err := Unmarshal([]byte("not cbor")); err == nil {
		t.Error("Unmarshal accepted garbage")
	}
}
