package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	saved := stderr
	stderr = &buf
	defer func() { stderr = saved }()

	tests := []struct {
		name  string
		panic any
		want  string
	}{
		{"panics", "boom", "harden: panic in worker: boom"},
		{"returns normally", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			exited := false
			func() {
				defer RecoverPanic("worker", func() { exited = true })
				if tt.panic != nil {
					panic(tt.panic)
				}
			}()
			if exited != (tt.want != "") {
				t.Errorf("exit called = %v", exited)
			}
			if tt.want == "" && buf.Len() != 0 {
				t.Errorf("unexpected output %q", buf.String())
			}
			if !strings.HasPrefix(buf.String(), tt.want) {
				t.Errorf("output = %q, want prefix %q", buf.String(), tt.want)
			}
		})
	}
}
