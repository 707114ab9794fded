package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lychee-technology/metaeditor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema> <file>",
		Short: "Validate a JSON or YAML metadata file against a schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			record, err := loadRecord(registry, args[0], args[1])
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "%s is a valid %s record (idno %q)", args[1], record.SchemaName(), record.Idno())
			return nil
		},
	}
}

// readMetadataFile returns the file as JSON input for NewRecord. YAML files
// are decoded into a map first.
func readMetadataFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, metaeditor.NewInvalidJSONError(err).WithDetail("file", path)
		}
		return doc, nil
	default:
		return data, nil
	}
}

func loadRecord(registry metaeditor.SchemaRegistry, schemaName, path string) (*metaeditor.Record, error) {
	schema, err := registry.RecordSchema(schemaName)
	if err != nil {
		return nil, err
	}
	input, err := readMetadataFile(path)
	if err != nil {
		return nil, err
	}
	return metaeditor.NewRecord(schema, input)
}
