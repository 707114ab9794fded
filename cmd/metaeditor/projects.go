package main

import (
	"encoding/json"
	"fmt"

	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/factory"
	"github.com/spf13/cobra"
)

func newProjectsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List, read, create, update and delete editor projects",
		Long: `Call the Metadata Editor API at editor.base_url. The API key is taken from
editor.api_key, usually set through METAEDITOR_EDITOR_API_KEY.`,
	}
	cmd.AddCommand(newProjectsListCommand(opts))
	cmd.AddCommand(newProjectsGetCommand(opts))
	cmd.AddCommand(newProjectsCreateCommand(opts))
	cmd.AddCommand(newProjectsUpdateCommand(opts))
	cmd.AddCommand(newProjectsDeleteCommand(opts))
	return cmd
}

// client builds an editor client; withRegistry is needed by create and update.
func (o *rootOptions) client(cmd *cobra.Command, withRegistry bool) (metaeditor.EditorClient, metaeditor.SchemaRegistry, error) {
	var registry metaeditor.SchemaRegistry
	if withRegistry {
		r, err := o.registry(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		registry = r
	}
	client, err := factory.NewEditorClient(o.cfg, registry)
	if err != nil {
		return nil, nil, err
	}
	return client, registry, nil
}

func newProjectsListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client(cmd, false)
			if err != nil {
				return err
			}
			projects, err := client.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, projects)
			}
			for _, p := range projects {
				fmt.Fprintf(out, "%-8s %-12s %-24s %-20s %s\n", p.ID, p.Type, p.Idno, p.Created, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print projects as JSON")
	return cmd
}

func newProjectsGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one project as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client(cmd, false)
			if err != nil {
				return err
			}
			project, err := client.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), project)
		},
	}
}

func newProjectsCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <type> <file>",
		Short: "Validate a metadata file and create a project from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, registry, err := opts.client(cmd, true)
			if err != nil {
				return err
			}
			record, err := loadRecord(registry, args[0], args[1])
			if err != nil {
				return err
			}
			resp, err := client.CreateProject(cmd.Context(), metaeditor.ProjectType(args[0]), record)
			if err != nil {
				return err
			}
			printOK(cmd.ErrOrStderr(), "created %s project %q", args[0], record.Idno())
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newProjectsUpdateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <type> <id> <file>",
		Short: "Merge the top-level keys of a file into a project's metadata",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client(cmd, true)
			if err != nil {
				return err
			}
			updates, err := readUpdates(args[2])
			if err != nil {
				return err
			}
			record, err := client.UpdateProject(cmd.Context(), metaeditor.ProjectType(args[0]), args[1], updates)
			if err != nil {
				return err
			}
			printOK(cmd.ErrOrStderr(), "updated project %s", args[1])
			return printJSON(cmd.OutOrStdout(), record)
		},
	}
}

func newProjectsDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project and confirm it is gone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client(cmd, false)
			if err != nil {
				return err
			}
			if err := client.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "deleted project %s", args[0])
			return nil
		},
	}
}

func readUpdates(path string) (map[string]any, error) {
	input, err := readMetadataFile(path)
	if err != nil {
		return nil, err
	}
	if m, ok := input.(map[string]any); ok {
		return m, nil
	}
	var updates map[string]any
	if err := json.Unmarshal(input.([]byte), &updates); err != nil {
		return nil, metaeditor.NewInvalidJSONError(err).WithDetail("file", path)
	}
	return updates, nil
}
