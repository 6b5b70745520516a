package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"harden/internal/config"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "schema",
		Short:  "Print the configuration JSON schema",
		Long:   "Print a JSON schema describing harden.toml and harden.yaml, for editor completion and validation.",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := new(jsonschema.Reflector)
			out, err := json.MarshalIndent(r.Reflect(&config.Config{}), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
			return err
		},
	}
}
