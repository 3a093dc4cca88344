package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/nfs3gw/pkg/config"
	"github.com/spf13/cobra"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	Long: `Generate a JSON schema for config.yaml, for editor completion and
validation. Writes to stdout unless --output is set.`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "write the schema to this file")
}

func runSchema(cmd *cobra.Command, args []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "nfs3gw Configuration"
	schema.Description = "Configuration schema for the nfs3gw NFSv3 gateway"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	if schemaOutput == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if err := os.WriteFile(schemaOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
	return nil
}
