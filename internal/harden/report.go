package harden

import (
	"fmt"
	"slices"
	"strings"

	"harden/internal/pass"
)

// Report returns a markdown summary of the session. It is empty in quiet
// mode or before anything was parsed.
func (a *App) Report() string {
	if a.cfg.Quiet || a.prog == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# harden\n\n`%s`", a.input)
	if a.output != "" {
		fmt.Fprintf(&b, " → `%s`", a.output)
	}
	b.WriteString("\n\n| | |\n|---|---|\n")

	row := func(k string, v any) { fmt.Fprintf(&b, "| %s | %v |\n", k, v) }
	mode := "relocating"
	if a.oneToOne {
		mode = "one-to-one"
	}
	row("mode", mode)
	row("functions", a.loaded.Functions)
	row("instructions", a.loaded.Instructions)
	row("control flow", a.loaded.ControlFlow)
	row("pc-relative", a.loaded.Linked)
	if a.loaded.Bad > 0 {
		row("undecodable bytes", a.loaded.Bad)
	}
	if len(a.applied) > 0 {
		row("policies", strings.Join(a.applied, ", "))
	} else {
		row("policies", "none")
	}

	if r := a.result; r != nil {
		row("resolution passes", r.Layout.Passes)
		row("escalated branches", r.Layout.Escalations)
		if r.Segment != 0 {
			row("new segment", fmt.Sprintf("`%#x` (%d bytes)", r.Segment, r.SegmentSize))
		}
		if r.Trampolines > 0 || len(r.Skipped) > 0 {
			row("trampolines", r.Trampolines)
		}
		row("entry", fmt.Sprintf("`%#x`", r.Entry))
		if r.Relocations > 0 {
			row("relocations rewritten", r.Relocations)
		}
		if len(r.Skipped) > 0 {
			b.WriteString("\n> Functions too small for a trampoline: ")
			b.WriteString(strings.Join(r.Skipped, ", "))
			b.WriteString("\n")
		}
	}
	if slices.Contains(a.applied, "shadow-stack ("+string(pass.ShadowConst)+")") {
		fmt.Fprintf(&b, "\n> The shadow stack sits %#x bytes below the stack pointer. "+
			"Run the output with a stack limit above %d MiB, e.g. `ulimit -s %d`.\n",
			pass.ConstOffset, pass.ConstOffset>>20, pass.ConstOffset>>10+1024)
	}
	if a.cfg.Map != "" && a.result != nil {
		fmt.Fprintf(&b, "\nAddress map written to `%s`.\n", a.cfg.Map)
	}
	return b.String()
}
