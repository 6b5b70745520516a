// Command harden rewrites static x86-64 ELF executables with control-flow
// integrity, a shadow stack, or permuted data sections.
//
// Set HARDEN_PPROF to a listen address (for example localhost:6060) to
// expose net/http/pprof while a rewrite runs.
package main

import (
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof"

	"harden/internal/harden/cmd"
	"harden/internal/harden/log"
)

func main() {
	defer log.RecoverPanic("harden", func() { os.Exit(2) })

	if addr := os.Getenv("HARDEN_PPROF"); addr != "" {
		log.Setup(false)
		go serveProfile(addr)
	}

	cmd.Execute()
}

func serveProfile(addr string) {
	slog.Info("pprof listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("pprof stopped", "addr", addr, "error", err)
	}
}
