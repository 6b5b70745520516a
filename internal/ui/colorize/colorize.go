// Package colorize highlights disassembly for terminal output.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colour output is allowed by the environment.
func Enabled() bool {
	return os.Getenv("HARDEN_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

// x86 Intel syntax tokenizes well enough with the nasm lexer.
func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "gas"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getDisasmStyle() *chroma.Style {
	for _, name := range []string{HardenDark.Name, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly. On any failure, or with colour
// disabled, the input comes back unchanged.
func Assembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Instruction highlights a single instruction text such as
// "call 0x401020". The lexer appends a newline to its input; it is dropped.
func Instruction(text string) string {
	out, err := Assembly(text)
	if err != nil {
		return text
	}
	return strings.ReplaceAll(out, "\n", "")
}

// Strip removes ANSI escape sequences.
func Strip(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
