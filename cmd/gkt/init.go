package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/TheusHen/gkt/gkt/config"
)

func newInitCmd(pf *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the built-in configuration as YAML to --config, or to
~/.gkt/config.yaml. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := pf.GetString("config")
			if path == "" {
				path = filepath.Join(config.DefaultDataDir(), "config.yaml")
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
