package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "dltd.toml"

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	run := newRunCommand(opts)

	cmd := &cobra.Command{
		Use:           "dltd",
		Short:         "DLT log and trace daemon",
		Long:          "dltd hosts a DLT engine, serves viewers over TCP and exposes an HTTP admin API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run.RunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "config file (.toml or .yaml)")

	cmd.AddCommand(run)
	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}
