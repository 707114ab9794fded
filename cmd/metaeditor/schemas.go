package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newSchemasCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List, fetch, check and resolve registered schema documents",
	}
	cmd.AddCommand(newSchemasListCommand(opts))
	cmd.AddCommand(newSchemasFetchCommand(opts))
	cmd.AddCommand(newSchemasCheckCommand(opts))
	cmd.AddCommand(newSchemasResolveCommand(opts))
	return cmd
}

func newSchemasListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every registered schema and whether its local copy exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range registry.List() {
				source := d.SourceURI
				if source == "" {
					source = "-"
				}
				if _, err := os.Stat(d.LocalPath); err == nil {
					printOK(out, "%-16s %s <- %s", d.Name, d.LocalPath, source)
				} else {
					printWarn(out, "%-16s %s <- %s (not fetched)", d.Name, d.LocalPath, source)
				}
			}
			return nil
		},
	}
}

func newSchemasFetchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [name...]",
		Short: "Download schema documents and their missing $ref targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, err := opts.registry(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range schemaNames(registry, args) {
				res, err := registry.Fetch(ctx, name)
				if err != nil {
					printFail(out, "%s: %v", name, err)
					failed++
					continue
				}
				printOK(out, "%s: %d bytes -> %s", name, res.Bytes, res.Document.LocalPath)
				for _, ref := range res.FetchedRefs {
					printOK(out, "  fetched %s", ref)
				}
			}
			return failures(failed, "fetches")
		},
	}
}

func newSchemasCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [name...]",
		Short: "Verify that every $ref reachable from a schema resolves locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range schemaNames(registry, args) {
				if err := registry.CheckResolvable(name); err != nil {
					printFail(out, "%s: %v", name, err)
					failed++
					continue
				}
				printOK(out, "%s resolvable", name)
			}
			return failures(failed, "checks")
		},
	}
}

func newSchemasResolveCommand(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Print a schema with every $ref inlined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.registry(cmd.Context())
			if err != nil {
				return err
			}
			resolved, err := registry.Resolve(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return printJSON(cmd.OutOrStdout(), resolved)
			}
			if err := writeJSONFile(output, resolved); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "resolved %s written to %s", args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "write to file instead of stdout")
	return cmd
}
