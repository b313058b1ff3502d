package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt/identity"
)

func newRecordCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect key records",
	}
	cmd.AddCommand(newRecordShowCmd(load), newRecordListCmd(load))
	return cmd
}

func newRecordShowCmd(load loader) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show a key record",
		Long: `Show the format, auxiliary length and key fingerprint of a key record.
The key itself is printed only with --reveal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			name := e.cfg.RecordName
			if len(args) == 1 {
				name = args[0]
			}
			rec, err := e.records.Get(name)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			format := "tagged"
			if rec.Legacy {
				format = "legacy"
			}
			fmt.Fprintf(w, "name:   %s\n", name)
			fmt.Fprintf(w, "format: %s\n", format)
			fmt.Fprintf(w, "key id: %s\n", identity.FingerprintOf(rec.Key).Short())
			if rec.HasAux {
				fmt.Fprintf(w, "aux:    %d bytes\n", rec.AuxLength)
			} else {
				fmt.Fprintf(w, "aux:    none\n")
			}
			if reveal {
				fmt.Fprintf(w, "key:    %s\n", hex.EncodeToString(rec.Key))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the raw group key")
	return cmd
}

func newRecordListCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored key records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			names, err := e.records.Names()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
