package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/factory"
	"github.com/spf13/cobra"
)

func newGenerateCommand(opts *rootOptions) *cobra.Command {
	var (
		fetch    bool
		watch    bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "generate [name...]",
		Short: "Generate Go models from registered schemas",
		Long: `Generate one model file per schema into generator.output_dir.

With --watch the command keeps running and regenerates a schema whenever its
local file changes. A change to any other schema file in a watched directory
regenerates every schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry, err := opts.registry(ctx)
			if err != nil {
				return err
			}
			generator, err := factory.NewModelGenerator(opts.cfg, registry)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, name := range schemaNames(registry, args) {
				if fetch {
					if _, err := registry.Fetch(ctx, name); err != nil {
						printFail(out, "%s: %v", name, err)
						failed++
						continue
					}
				}
				module, err := generator.Generate(ctx, name)
				reportGeneration(out, name, module, err)
				if err != nil {
					failed++
				}
			}
			if !watch {
				return failures(failed, "generations")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			w := factory.NewRegenerateWatcher(registry, generator, debounce, func(name string, module *metaeditor.ModelModule, err error) {
				reportGeneration(out, name, module, err)
			})
			go func() {
				select {
				case <-w.Ready():
					printOK(out, "watching for schema changes (Ctrl+C to stop)")
				case <-ctx.Done():
				}
			}()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch each schema before generating")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "regenerate when schema files change")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before regenerating")
	return cmd
}

func reportGeneration(out io.Writer, name string, module *metaeditor.ModelModule, err error) {
	if err != nil {
		printFail(out, "%s: %v", name, err)
		return
	}
	printOK(out, "%s -> %s (%d types)", name, module.OutputPath, len(module.Types))
	if len(module.Reused) > 0 {
		printOK(out, "  reused %s", strings.Join(module.Reused, ", "))
	}
}
