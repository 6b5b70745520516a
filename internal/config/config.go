// Package config handles harden.toml / harden.yaml session configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ShadowStack modes accepted by Config.ShadowStack.
const (
	ShadowOff   = "off"
	ShadowConst = "const"
	ShadowGS    = "gs"
)

// Names searched for by Find, in order.
var Names = []string{"harden.toml", "harden.yaml", "harden.yml"}

// Config is one hardening session.
type Config struct {
	OneToOne    bool   `toml:"one-to-one" yaml:"one-to-one" json:"oneToOne" jsonschema:"title=One-to-one,description=Keep every function at its original address"`
	Quiet       bool   `toml:"quiet" yaml:"quiet" json:"quiet" jsonschema:"title=Quiet,description=Only report errors"`
	CFI         bool   `toml:"cfi" yaml:"cfi" json:"cfi" jsonschema:"title=CFI,description=Insert endbr64 at function entries"`
	ShadowStack string `toml:"shadow-stack" yaml:"shadow-stack" json:"shadowStack" jsonschema:"title=Shadow stack,enum=off,enum=const,enum=gs,default=off"`
	PermuteData bool   `toml:"permute-data" yaml:"permute-data" json:"permuteData" jsonschema:"title=Permute data,description=Shuffle .data objects (PIE only)"`
	Seed        uint64 `toml:"seed" yaml:"seed" json:"seed" jsonschema:"title=Seed,description=Seed for data permutation"`

	MaxPasses    int    `toml:"max-passes" yaml:"max-passes" json:"maxPasses" jsonschema:"title=Max passes,description=Cap on displacement resolution passes (0 for the computed bound)"`
	Align        uint64 `toml:"align" yaml:"align" json:"align" jsonschema:"title=Function alignment,default=16"`
	SegmentAlign uint64 `toml:"segment-align" yaml:"segment-align" json:"segmentAlign" jsonschema:"title=Segment alignment,default=4096"`

	// Map is the path of the address map sidecar; empty disables it.
	Map string `toml:"map" yaml:"map" json:"map" jsonschema:"title=Address map,description=Write a CBOR address map to this path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ShadowStack:  ShadowOff,
		Align:        16,
		SegmentAlign: 0x1000,
	}
}

// Load reads path over the defaults. The format follows the extension.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%s: unknown config format %q", path, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Find walks up from startDir looking for one of Names. It returns "" when
// there is none.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range Names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Validate checks field values.
func (c Config) Validate() error {
	var errs []error
	switch c.ShadowStack {
	case "", ShadowOff, ShadowConst, ShadowGS:
	default:
		errs = append(errs, fmt.Errorf("shadow-stack must be off, const or gs, not %q", c.ShadowStack))
	}
	if c.MaxPasses < 0 {
		errs = append(errs, fmt.Errorf("max-passes must not be negative"))
	}
	if !powerOfTwo(c.Align) {
		errs = append(errs, fmt.Errorf("align %d is not a power of two", c.Align))
	}
	if !powerOfTwo(c.SegmentAlign) {
		errs = append(errs, fmt.Errorf("segment-align %d is not a power of two", c.SegmentAlign))
	}
	return errors.Join(errs...)
}

// ShadowStackEnabled reports whether a shadow stack mode is selected.
func (c Config) ShadowStackEnabled() bool {
	return c.ShadowStack == ShadowConst || c.ShadowStack == ShadowGS
}

// powerOfTwo accepts zero, which leaves alignment to the defaults.
func powerOfTwo(v uint64) bool {
	return v&(v-1) == 0
}
