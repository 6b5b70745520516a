package cmd

import (
	"github.com/spf13/cobra"

	"harden/internal/config"
	"harden/internal/harden"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input> <output>",
		Short: "Harden an executable",
		Long: `Parse input, apply the selected policies and write the result to output.
Flags override the values read from the config file.

The const shadow stack keeps its copies 11 MiB below the stack pointer, so
hardened programs need a larger stack limit than the usual 8 MiB
(ulimit -s 12288 or more).`,
		Example: `
# Keep functions in place and only add landing pads
harden run --one-to-one --cfi ./app ./app.cfi

# Shadow stack addressed through gs, with an address map
harden run --shadow-stack gs --map app.map ./app ./app.ss

# Shuffle .data of a PIE with a fixed seed
harden run --permute-data --seed 42 ./app ./app.perm
  `,
		Args: cobra.ExactArgs(2),
		RunE: runHarden,
	}

	f := cmd.Flags()
	f.Bool("cfi", false, "Insert endbr64 at function entries")
	f.String("shadow-stack", "", "Shadow stack mode: off, const or gs")
	f.Bool("permute-data", false, "Shuffle .data objects (PIE only)")
	f.Uint64("seed", 0, "Seed for --permute-data")
	f.Bool("one-to-one", false, "Keep every function at its original address")
	f.String("map", "", "Write a CBOR address map to this path")
	f.BoolP("quiet", "q", false, "Only report errors")
	f.Int("max-passes", 0, "Cap on displacement resolution passes")
	f.Uint64("align", 0, "Function alignment in relocating mode")
	return cmd
}

func runHarden(cmd *cobra.Command, args []string) error {
	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, cwd)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cmd)
	defer logger.Close()

	app := harden.New(cfg, logger)
	defer app.Close()
	if err := app.Run(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if report := app.Report(); report != "" {
		printMarkdown(cmd, report)
	}
	return nil
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("cfi") {
		cfg.CFI, _ = f.GetBool("cfi")
	}
	if f.Changed("shadow-stack") {
		cfg.ShadowStack, _ = f.GetString("shadow-stack")
	}
	if f.Changed("permute-data") {
		cfg.PermuteData, _ = f.GetBool("permute-data")
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("one-to-one") {
		cfg.OneToOne, _ = f.GetBool("one-to-one")
	}
	if f.Changed("map") {
		cfg.Map, _ = f.GetString("map")
	}
	if f.Changed("quiet") {
		cfg.Quiet, _ = f.GetBool("quiet")
	}
	if f.Changed("max-passes") {
		cfg.MaxPasses, _ = f.GetInt("max-passes")
	}
	if f.Changed("align") {
		cfg.Align, _ = f.GetUint64("align")
	}
}
