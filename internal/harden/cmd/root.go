// Package cmd implements the harden command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"harden/internal/config"
	"harden/internal/harden/log"
	"harden/internal/harden/styles"
	"harden/internal/logging"
	"harden/internal/ui/colorize"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harden",
		Short: "Static binary hardening for x86-64 ELF executables",
		Long: `Harden rewrites x86-64 ELF executables without source code.
It lifts functions into relocatable instructions, inserts control-flow
integrity checks and writes a new executable.`,
		Example: `
# Add endbr64 landing pads and a shadow stack
harden run --cfi --shadow-stack const ./app ./app.hardened

# Inspect how a function was lifted
harden disasm ./app main
  `,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().String("config", "", "Config file (default: harden.toml or harden.yaml found upward from cwd)")

	root.AddCommand(newRunCmd(), newDisasmCmd(), newMapCmd(), newSchemaCmd())
	return root
}

func Execute() {
	// fang renders help and errors as styled markdown; skip it when piped.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}

// loadConfig reads --config, or the nearest config file above cwd, or
// falls back to the defaults.
func loadConfig(cmd *cobra.Command, cwd string) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		found, err := config.Find(cwd)
		if err != nil {
			return config.Default(), err
		}
		path = found
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger returns the session logger, honouring --debug.
func newLogger(cmd *cobra.Command) *logging.LoggerCloser {
	debug, _ := cmd.Flags().GetBool("debug")
	debug = debug || logging.IsDebug()
	log.Setup(debug)
	logger := logging.NewLogger()
	if debug {
		logger.SetLevel(charmlog.DebugLevel)
	}
	return logger
}

// isTTY reports whether w is a terminal that accepts colour.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && colorize.Enabled() && term.IsTerminal(f.Fd())
}

// printMarkdown writes md to the command output, rendered when it is a
// terminal.
func printMarkdown(cmd *cobra.Command, md string) {
	out := cmd.OutOrStdout()
	if isTTY(out) {
		width := 80
		if w, _, err := term.GetSize(out.(*os.File).Fd()); err == nil && w > 0 {
			width = w
		}
		md = styles.RenderReport(md, width)
	}
	fmt.Fprint(out, md)
}
