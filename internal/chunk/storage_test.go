package chunk

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"harden/internal/disasm"
)

func TestRawRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
	}{
		{name: "empty", in: []byte{}},
		{name: "nop", in: []byte{0x90}},
		{name: "endbr64", in: []byte{0xf3, 0x0f, 0x1e, 0xfa}},
		{name: "long", in: bytes.Repeat([]byte{0xcc, 0x0f}, 64)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sem := NewRaw(tc.in)
			if sem.Size() != len(tc.in) {
				t.Fatalf("Size() = %d, want %d", sem.Size(), len(tc.in))
			}

			buf := make([]byte, sem.Size())
			n, err := sem.Encode(buf)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if n != len(tc.in) || !bytes.Equal(buf, tc.in) {
				t.Errorf("Encode = %x (%d), want %x", buf, n, tc.in)
			}

			out, err := sem.AppendTo([]byte{0xaa})
			if err != nil {
				t.Fatalf("AppendTo: %v", err)
			}
			if !bytes.Equal(out[1:], tc.in) || out[0] != 0xaa {
				t.Errorf("AppendTo = %x, want aa%x", out, tc.in)
			}

			data, err := sem.Data()
			if err != nil {
				t.Fatalf("Data: %v", err)
			}
			if !bytes.Equal(data, tc.in) {
				t.Errorf("Data = %x, want %x", data, tc.in)
			}
		})
	}
}

func TestRawStorageIsolated(t *testing.T) {
	in := []byte{1, 2, 3}
	sem := NewRaw(in)
	in[0] = 9

	data, _ := sem.Data()
	if data[0] != 1 {
		t.Fatalf("construction did not copy: %x", data)
	}
	data[1] = 9
	again, _ := sem.Data()
	if again[1] != 2 {
		t.Fatalf("Data returned shared slice: %x", again)
	}
}

func TestEncodeShortBuffer(t *testing.T) {
	sem := NewRaw([]byte{1, 2, 3})
	if _, err := sem.Encode(make([]byte, 2)); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("Encode short = %v, want io.ErrShortBuffer", err)
	}
}

func TestDisassembledReplaysBytes(t *testing.T) {
	// lea rax, [rip+0x10] followed by trailing garbage the decoder did
	// not consume.
	code := []byte{0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00, 0xff, 0xff}
	inst, err := disasm.DecodeX86(code, 0x1000)
	if err != nil {
		t.Fatalf("DecodeX86: %v", err)
	}

	sem := NewDisassembled(inst)
	if sem.Kind() != KindDisassembled {
		t.Errorf("Kind() = %v, want %v", sem.Kind(), KindDisassembled)
	}
	if sem.Size() != 7 {
		t.Fatalf("Size() = %d, want 7", sem.Size())
	}
	data, err := sem.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if !bytes.Equal(data, code[:7]) {
		t.Errorf("Data = %x, want %x", data, code[:7])
	}
}
