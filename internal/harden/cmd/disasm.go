package cmd

import (
	"debug/elf"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"harden/internal/chunk"
	"harden/internal/disasm"
	"harden/internal/elfx"
	"harden/internal/harden/styles"
	"harden/internal/loader"
	"harden/internal/symbols"
	"harden/internal/ui/colorize"
)

func newDisasmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <file> [function]",
		Short: "List functions as lifted instructions",
		Long: `Parse file the same way run does and print each instruction with its
semantic kind and link target. Pass a function name to list only that one.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ResolveCwd(cmd); err != nil {
				return err
			}
			logger := newLogger(cmd)
			defer logger.Close()

			im, err := elfx.Open(args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			var only string
			if len(args) == 2 {
				only = args[1]
			}
			plain, _ := cmd.Flags().GetBool("plain")
			out := cmd.OutOrStdout()
			if !isTTY(out) {
				plain = true
			}

			if im.Machine() == elf.EM_AARCH64 {
				logger.Warn("arm64 images are listed but cannot be rewritten")
				return listARM64(out, im, only, plain)
			}
			prog, err := loader.New(logger).Load(im)
			if err != nil {
				return err
			}
			return listProgram(out, im, prog, only, plain)
		},
	}
	cmd.Flags().Bool("plain", false, "Disable colour")
	return cmd
}

func listProgram(w io.Writer, im *elfx.Image, prog *chunk.Program, only string, plain bool) error {
	st := styles.NewListing(plain)
	found := false
	for _, fn := range prog.Functions() {
		if only != "" && fn.Name != only && fn.DisplayName() != only {
			continue
		}
		found = true
		fmt.Fprintf(w, "%s %s:\n",
			st.Address.Render(fmt.Sprintf("%016x", fn.OriginalAddress)),
			st.Function.Render(fn.DisplayName()))
		for ins := range fn.Instructions() {
			text := instText(ins.Semantic())
			if !plain {
				text = colorize.Instruction(text)
			}
			line := fmt.Sprintf("  %s  %-12s %s",
				st.Address.Render(fmt.Sprintf("%x", ins.OriginalAddress())),
				st.Kind.Render(ins.Semantic().Kind().String()),
				text)
			if l := ins.Link(); l != nil {
				line += "  " + st.Link.Render("-> "+linkText(l, im))
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	if only != "" && !found {
		return fmt.Errorf("no function named %q", only)
	}
	if d := prog.Data; d != nil && only == "" {
		fmt.Fprintf(w, "%s %s: %d objects\n",
			st.Address.Render(fmt.Sprintf("%016x", d.Address)),
			st.Data.Render(d.Name), len(d.Objects))
	}
	return nil
}

// listARM64 decodes function symbols without lifting them.
func listARM64(w io.Writer, im *elfx.Image, only string, plain bool) error {
	if only != "" {
		if _, ok := im.FindFunctionByName(only); !ok {
			return fmt.Errorf("no function named %q", only)
		}
	}
	st := styles.NewListing(plain)
	for _, sym := range im.Functions() {
		if only != "" && sym.Name != only {
			continue
		}
		code, ok := im.SliceVA(sym.Addr, sym.Size)
		if !ok {
			return fmt.Errorf("function %s at %#x: not mapped", sym.Name, sym.Addr)
		}
		fmt.Fprintf(w, "%s %s:\n",
			st.Address.Render(fmt.Sprintf("%016x", sym.Addr)),
			st.Function.Render(sym.Name))
		for _, inst := range disasm.Disassemble(disasm.DecodeARM64, code, sym.Addr) {
			text := inst.Text
			if !inst.Valid() {
				text = st.Warning.Render(text)
			}
			fmt.Fprintf(w, "  %s  %s\n", st.Address.Render(fmt.Sprintf("%x", inst.VA)), text)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func instText(sem chunk.Semantic) string {
	switch s := sem.(type) {
	case *chunk.Linked:
		return instText(s.Inner())
	case *chunk.DisassembledInstruction:
		return s.Storage().Inst().Text
	case *chunk.ControlFlow:
		return s.Branch().Name
	case *chunk.RawInstruction:
		return fmt.Sprintf("db % x", s.Storage().Data())
	}
	return sem.Kind().String()
}

func linkText(l chunk.Link, im *elfx.Image) string {
	switch l := l.(type) {
	case *chunk.AbsoluteLink:
		addr, _ := l.Target()
		if im == nil || !im.IsPLTEntry(addr) {
			break
		}
		name := strings.TrimSuffix(l.Name, "@plt")
		if n, ok := im.PLTName(addr); ok {
			name = n
		}
		if name == "" {
			return fmt.Sprintf("%x <plt>", addr)
		}
		return fmt.Sprintf("%x <%s@plt>", addr, name)
	case *chunk.InstructionLink:
		target := l.Instruction()
		if fn := target.Function(); fn != nil {
			return fmt.Sprintf("%x <%s>", target.OriginalAddress(), fn.Name)
		}
		return fmt.Sprintf("%x", target.OriginalAddress())
	case *chunk.FunctionLink:
		return "<" + symbols.Short(l.Function().DisplayName()) + ">"
	}
	return strings.TrimSpace(fmt.Sprint(l))
}
