package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"harden/internal/addrmap"
)

func newMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map <file.map> [address]",
		Short: "Print an address map written by run --map",
		Long: `Print every function of an address map with its old and new address.
With an address, print only the function that started there in the input.`,
		Example: `
harden map app.map
harden map app.map 0x401130
  `,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := addrmap.Read(args[0])
			if err != nil {
				return err
			}
			entries := m.Entries
			if len(args) == 2 {
				addr, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
				if err != nil {
					return fmt.Errorf("bad address %q: %w", args[1], err)
				}
				e, ok := m.Lookup(addr)
				if !ok {
					return fmt.Errorf("no function at %#x in %s", addr, m.Input)
				}
				entries = []addrmap.Entry{e}
			}
			printMarkdown(cmd, mapTable(m, entries))
			return nil
		},
	}
}

func mapTable(m *addrmap.Map, entries []addrmap.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "`%s` → `%s`\n\n", m.Input, m.Output)
	b.WriteString("| function | old | new | size |\n|---|---|---|---|\n")
	for _, e := range entries {
		old := "-"
		if e.Old != 0 {
			old = fmt.Sprintf("`%#x`", e.Old)
		}
		fmt.Fprintf(&b, "| %s | %s | `%#x` | %d |\n", e.Function, old, e.New, e.Size)
	}
	return b.String()
}
