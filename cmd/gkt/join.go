package main

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/distribution"
	"github.com/TheusHen/gkt/gkt/identity"
)

func newJoinCmd(load loader) *cobra.Command {
	var pin string

	cmd := &cobra.Command{
		Use:   "join <addr> <member>",
		Short: "Fetch the group key from an aggregator",
		Long: `Join the group run by the aggregator at addr as member, using the
member's identity from the local keystore. The received key record is
stored under the name the aggregator sends.

Examples:
  gkt join 10.0.0.5:7443 carol --aggregator 3f1c...`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			if pin == "" {
				pin = e.cfg.Distribution.Aggregator
			}
			var opts distribution.JoinOptions
			if pin != "" {
				raw, err := hex.DecodeString(pin)
				if err != nil {
					return fmt.Errorf("aggregator key: %w", err)
				}
				if opts.Aggregator, err = crypto.ParsePublicKey(raw); err != nil {
					return fmt.Errorf("aggregator key: %w", err)
				}
			} else {
				e.log.Warn("no aggregator key pinned, trusting first contact")
			}

			self, err := e.keystore.LoadOrGenerate(cmd.Context(), identity.MemberID(args[1]))
			if err != nil {
				return err
			}
			grant, err := distribution.Join(cmd.Context(), args[0], self, opts)
			if err != nil {
				return err
			}
			if err := e.records.Put(grant.RecordName, grant.Record); err != nil {
				return err
			}
			e.log.WithFields(logrus.Fields{
				"aggregator": hex.EncodeToString(grant.AggregatorKey[:]),
				"members":    grant.Members,
				"record":     grant.RecordName,
			}).Info("joined")
			fmt.Fprintln(cmd.OutOrStdout(), grant.RecordName)
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "aggregator", "", "hex public key the aggregator must present")
	return cmd
}
