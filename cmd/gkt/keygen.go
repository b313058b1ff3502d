package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt/identity"
)

func newKeygenCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <member>...",
		Short: "Create or show member identities",
		Long: `Create an X25519 identity for each member that does not have one yet
and print its fingerprint and public key. Existing identities are shown
unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			for _, arg := range args {
				id, err := e.keystore.LoadOrGenerate(cmd.Context(), identity.MemberID(arg))
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				pub := id.PublicKey()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id.Member, id.Fingerprint(), hex.EncodeToString(pub[:]))
			}
			return nil
		},
	}
}
