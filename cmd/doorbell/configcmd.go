package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doorbell-go/services/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := opts.settings()
			if err != nil {
				return err
			}
			if _, err := config.Decode(v); err != nil {
				return err
			}
			return config.Show(cmd.OutOrStdout(), v)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "boards",
		Short: "List boards with embedded defaults",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, b := range config.Boards() {
				fmt.Fprintln(cmd.OutOrStdout(), b)
			}
		},
	})
	return cmd
}
