package main

import (
	"time"

	"github.com/lychee-technology/metaeditor/factory"
	"github.com/lychee-technology/metaeditor/internal"
	"github.com/spf13/cobra"
)

func newDoctorCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that every configured backend is reachable",
		Long: `Check the schema source database, the S3 endpoint, the inventory database
and the editor API. Backends that are not configured are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg
			out := cmd.OutOrStdout()
			failed := 0
			check := func(name string, err error) {
				if err != nil {
					printFail(out, "%s: %v", name, err)
					failed++
					return
				}
				printOK(out, "%s", name)
			}

			if cfg.Sources.DatabaseURL != "" {
				n, err := internal.SchemaSourceHealthCheck(ctx, cfg.Sources, timeout)
				if err == nil {
					printOK(out, "schema source table: %d entries", n)
				} else {
					check("schema source table", err)
				}
			}
			if cfg.S3.Endpoint != "" {
				check("s3 endpoint "+cfg.S3.Endpoint, internal.S3HealthCheck(ctx, cfg.S3, timeout))
			}

			store, err := factory.OpenInventoryStore(ctx, cfg)
			if err == nil {
				err = store.HealthCheck(ctx)
				_ = store.Close()
			}
			check("inventory database", err)

			if cfg.Editor.APIKey == "" {
				printWarn(out, "editor api: skipped, editor.api_key is not set")
			} else {
				_, err := factory.ConnectEditorClient(ctx, cfg, nil)
				check("editor api "+cfg.Editor.BaseURL, err)
			}
			return failures(failed, "checks")
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout per check")
	return cmd
}
