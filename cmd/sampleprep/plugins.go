// SPDX-License-Identifier: EPL-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ik5/sampleprep/internal/plugins"
	"github.com/ik5/sampleprep/internal/sandbox"
)

func pluginCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage sample transform plugins",
	}
	cmd.AddCommand(
		pluginAddCommand(opts),
		pluginRemoveCommand(opts),
		pluginListCommand(opts),
		pluginReloadCommand(opts),
	)
	return cmd
}

func pluginAddCommand(opts *options) *cobra.Command {
	var onConflict, rename string

	cmd := &cobra.Command{
		Use:   "add <file.js>",
		Short: "Install a plugin from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice := plugins.Choice(onConflict)
			if !slices.Contains([]plugins.Choice{plugins.ChoiceReplace, plugins.ChoiceUseExisting, plugins.ChoiceChangeName}, choice) {
				return fmt.Errorf("--on-conflict must be %s, %s or %s",
					plugins.ChoiceReplace, plugins.ChoiceUseExisting, plugins.ChoiceChangeName)
			}

			renamed := false
			hooks := plugins.Hooks{
				ConfirmReplace: func(context.Context, string) (plugins.Choice, error) { return choice, nil },
				ConfirmName: func(_ context.Context, proposed string) (string, error) {
					if rename != "" && !renamed {
						renamed = true
						return rename, nil
					}
					return proposed, nil
				},
			}

			name, outcome, err := opts.app.plugins.AddFromFile(cmd.Context(), args[0], hooks)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", name, outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&onConflict, "on-conflict", string(plugins.ChoiceChangeName),
		"when a different plugin has the same name: replace, use-existing or change-name")
	cmd.Flags().StringVar(&rename, "as", "", "name to use when the plugin is renamed")
	return cmd
}

func pluginRemoveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Uninstall a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.plugins.Remove(cmd.Context(), args[0])
		},
	}
}

type pluginRow struct {
	Name   string                      `yaml:"name"`
	Status sandbox.Status              `yaml:"status"`
	Params map[string]sandbox.ParamDef `yaml:"params,omitempty"`
}

func pluginListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored plugins and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg := opts.app.plugins

			names, err := reg.Names(ctx)
			if err != nil {
				return err
			}

			rows := make([]pluginRow, 0, len(names))
			for _, n := range names {
				st, err := reg.Status(ctx, n)
				if err != nil {
					return err
				}
				params, _ := reg.Params(n)
				rows = append(rows, pluginRow{Name: n, Status: st, Params: params})
			}

			if opts.yaml {
				return printYAML(opts.stdout, rows)
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATUS\tPARAMS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Name, r.Status, len(r.Params))
			}
			return tw.Flush()
		},
	}
}

func pluginReloadCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload <name>",
		Short: "Reinstall a broken plugin from its stored source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.plugins.Reload(cmd.Context(), args[0])
		},
	}
}
