// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ik5/sampleprep/internal/conf"
)

type options struct {
	configFile string
	yaml       bool
	app        *app

	// stdout and stderr follow the command's writers
	stdout io.Writer
	stderr io.Writer
}

// rootCommand builds the CLI. The app opened for a command is left in
// opts.app for the caller to close.
func rootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "sampleprep",
		Short:         "Prepare samples and plugins for a volca sample",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default: ./config.yaml or the user config dir)")
	pf.String("datadir", "", "directory for the sample database and tab events")
	pf.String("log.level", "", "log level: debug, info, warn or error")
	pf.String("log.file", "", "also write JSON logs to this file")
	pf.Bool("metrics.enabled", false, "serve prometheus metrics while the command runs")
	pf.BoolVar(&opts.yaml, "yaml", false, "print results as YAML")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		opts.stdout, opts.stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()

		v := conf.NewViper(opts.configFile)
		if err := bindChanged(v, cmd); err != nil {
			return err
		}
		settings, err := conf.Load(v)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), settings)
		if err != nil {
			return err
		}
		opts.app = a
		return nil
	}

	root.AddCommand(
		importCommand(opts),
		listCommand(opts),
		renderCommand(opts),
		updateCommand(opts),
		deleteCommand(opts),
		duplicateCommand(opts),
		pluginCommand(opts),
		transferCommand(opts),
		eraseCommand(opts),
		exportCommand(opts),
		importZipCommand(opts),
		watchCommand(opts),
	)
	return root
}

// bindChanged lets flags the user actually set override config and env.
func bindChanged(v *viper.Viper, cmd *cobra.Command) error {
	for _, name := range []string{"datadir", "log.level", "log.file", "metrics.enabled"} {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(name, f); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
