package main

import (
	"context"
	"fmt"

	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/factory"
	"github.com/lychee-technology/metaeditor/internal"
	"github.com/spf13/cobra"
)

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the Postgres table of schema sources",
		Long: `The schema source table (sources.table in sources.database_url) adds
registry entries on top of the config file. Entries in the table replace
configured entries of the same name.`,
	}
	cmd.AddCommand(newSourcesInitCommand(opts))
	cmd.AddCommand(newSourcesAddCommand(opts))
	cmd.AddCommand(newSourcesRemoveCommand(opts))
	cmd.AddCommand(newSourcesListCommand(opts))
	return cmd
}

func (o *rootOptions) withSourceStore(ctx context.Context, fn func(factory.SourceStore) error) error {
	store, err := factory.OpenSourceStore(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newSourcesInitCommand(opts *rootOptions) *cobra.Command {
	var fromConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema source table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			table := opts.cfg.Sources.Table
			return opts.withSourceStore(ctx, func(store factory.SourceStore) error {
				if err := internal.EnsureSchemaSourceTable(ctx, store, table); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "schema source table %s ready", table)
				if !fromConfig {
					return nil
				}

				docs := make([]metaeditor.SchemaDocument, 0, len(opts.cfg.Registry.Schemas))
				for _, s := range opts.cfg.Registry.Schemas {
					docs = append(docs, metaeditor.SchemaDocument{Name: s.Name, SourceURI: s.Source, LocalPath: s.Path})
				}
				n, err := internal.RegisterSchemaSources(ctx, store, table, docs)
				if err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "registered %d schemas from the config file", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromConfig, "from-config", false, "copy registry.schemas into the table")
	return cmd
}

func newSourcesAddCommand(opts *rootOptions) *cobra.Command {
	var localPath string
	cmd := &cobra.Command{
		Use:   "add <name> <source-uri>",
		Short: "Register or replace one schema source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc := metaeditor.SchemaDocument{Name: args[0], SourceURI: args[1], LocalPath: localPath}
			return opts.withSourceStore(ctx, func(store factory.SourceStore) error {
				if _, err := internal.RegisterSchemaSources(ctx, store, opts.cfg.Sources.Table, []metaeditor.SchemaDocument{doc}); err != nil {
					return err
				}
				printOK(cmd.OutOrStdout(), "registered %s <- %s", doc.Name, doc.SourceURI)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&localPath, "path", "", "local copy (default: registry.schema_dir + file name)")
	return cmd
}

func newSourcesRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove one schema source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withSourceStore(ctx, func(store factory.SourceStore) error {
				removed, err := internal.RemoveSchemaSource(ctx, store, opts.cfg.Sources.Table, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("schema source %q is not registered", args[0])
				}
				printOK(cmd.OutOrStdout(), "removed %s", args[0])
				return nil
			})
		},
	}
}

func newSourcesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the entries of the schema source table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return opts.withSourceStore(ctx, func(store factory.SourceStore) error {
				docs, err := internal.LoadSchemaSourcesFromPostgres(ctx, store, opts.cfg.Sources.Table, opts.cfg.Registry.SchemaDir)
				if err != nil {
					return err
				}
				for _, d := range docs {
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s <- %s\n", d.Name, d.LocalPath, d.SourceURI)
				}
				return nil
			})
		},
	}
}
