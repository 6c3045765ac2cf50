//go:build provision

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doorbell-go/services/kvstore"
)

func init() {
	extraCommands = append(extraCommands, newProvisionCmd)
}

func newProvisionCmd(opts *rootOptions) *cobra.Command {
	var creds kvstore.MQTTCredentials
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Write the broker credentials to the device store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, log, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("store.path is not set for board %q", cfg.Board)
			}
			st, err := kvstore.Open(kvstore.Options{Path: cfg.Store.Path})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveMQTT(creds); err != nil {
				return err
			}
			log.Info().Str("path", cfg.Store.Path).Str("broker", creds.Address).Msg("credentials stored")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&creds.Address, "broker", "", "broker URL, e.g. tcp://10.0.0.2:1883")
	f.StringVar(&creds.User, "user", "", "broker user name")
	f.StringVar(&creds.Password, "password", "", "broker password")
	_ = cmd.MarkFlagRequired("broker")
	return cmd
}
