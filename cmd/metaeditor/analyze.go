package main

import (
	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/factory"
	"github.com/lychee-technology/metaeditor/internal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// resolveAll resolves each named schema, stopping at the first failure.
func resolveAll(registry metaeditor.SchemaRegistry, names []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		resolved, err := registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = resolved
	}
	return out, nil
}

func newLintCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lint [name...]",
		Short: "Report schema quality problems such as URI fields without a format",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			names := schemaNames(registry, args)
			resolved, err := resolveAll(registry, names)
			if err != nil {
				return err
			}

			var findings []metaeditor.LintFinding
			for _, name := range names {
				findings = append(findings, internal.LintSchema(name, resolved[name])...)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, findings)
			}
			for _, f := range findings {
				printWarn(out, "%s %s [%s] %s", f.Schema, f.Path, f.Rule, f.Message)
			}
			if len(findings) == 0 {
				printOK(out, "%d schemas clean", len(names))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")
	return cmd
}

func newDuplicatesCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "duplicates [name...]",
		Short: "Find object shapes duplicated or conflicting across schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			resolved, err := resolveAll(registry, schemaNames(registry, args))
			if err != nil {
				return err
			}
			report := internal.AnalyzeDuplicates(resolved)

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, report)
			}
			for _, g := range report.Conflicts {
				printWarn(out, "conflict: %q has %d different shapes", g.Key, len(g.Shapes))
				for _, s := range g.Shapes {
					printWarn(out, "  %s %s (%s)", s.Schema, s.Path, s.Fingerprint)
				}
			}
			for _, g := range report.Equivalents {
				printOK(out, "equivalent shape %s:", g.Key)
				for _, s := range g.Shapes {
					printOK(out, "  %s %s as %q", s.Schema, s.Path, s.Name)
				}
			}
			if len(report.Conflicts) == 0 && len(report.Equivalents) == 0 {
				printOK(out, "no duplicated shapes")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newInventoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory [name...]",
		Short: "Export the field inventory of resolved schemas to DuckDB",
		Long: `Flatten every resolved schema into one row per field and write the rows to
inventory.db_path. Rows of the exported schemas are replaced; other schemas
are kept. The inventory can then be queried with any DuckDB client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, err := opts.registry(ctx)
			if err != nil {
				return err
			}
			names := schemaNames(registry, args)
			resolved, err := resolveAll(registry, names)
			if err != nil {
				return err
			}

			store, err := factory.OpenInventoryStore(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					zap.S().Warnw("failed to close inventory store", "error", err)
				}
			}()

			var fields []metaeditor.SchemaField
			for _, name := range names {
				fields = append(fields, internal.FlattenFields(name, resolved[name])...)
			}
			n, err := store.ExportInventory(ctx, fields)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printOK(out, "exported %d fields from %d schemas to %s", n, len(names), opts.cfg.Inventory.DBPath)

			missing, err := store.URIFieldsWithoutFormat(ctx)
			if err != nil {
				return err
			}
			for _, f := range missing {
				printWarn(out, "%s %s looks like a URI but declares no format", f.Schema, f.Path)
			}
			return nil
		},
	}
}
