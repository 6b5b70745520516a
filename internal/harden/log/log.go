// Package log owns the process-wide slog default. Sessions log through
// their own charmbracelet logger; this one only covers profiling and
// crashes that escape a command.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	once  sync.Once
	ready atomic.Bool

	// stderr is swapped by tests.
	stderr io.Writer = os.Stderr
)

// Setup installs a text handler on stderr. Later calls are no-ops, so the
// level chosen first wins.
func Setup(debug bool) {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: slog.LevelInfo}
		if debug {
			opts.Level = slog.LevelDebug
			opts.AddSource = true
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(stderr, opts)))
		ready.Store(true)
	})
}

// RecoverPanic must be deferred directly. It reports the panic with its
// stack, through slog once Setup has run and as plain text before that,
// then calls exit if non-nil.
func RecoverPanic(where string, exit func()) {
	r := recover()
	if r == nil {
		return
	}
	if ready.Load() {
		slog.Error("panic", "in", where, "value", r, "stack", string(debug.Stack()))
	} else {
		fmt.Fprintf(stderr, "harden: panic in %s: %v\n%s", where, r, debug.Stack())
	}
	if exit != nil {
		exit()
	}
}
