package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt/identity"
)

func newEncryptCmd(load loader) *cobra.Command {
	var (
		members      []string
		in           string
		out          string
		aux          string
		auxOut       string
		tree         bool
		compress     bool
		dataShards   int
		parityShards int
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Derive a group key and seal a file",
		Long: `Derive a fresh group key for the given members, store it as a key
record and seal the input file under it.

With --aux, a short payload is additionally sealed as a single frame and
its length is written into the key record.

Examples:
  gkt encrypt -m alice -m bob -i report.pdf
  gkt encrypt -m alice -i data.bin --compress --data-shards 4 --parity-shards 2
  gkt encrypt -m alice -i image.raw --aux watermark.txt --aux-out image.aux`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(members) == 0 {
				return fmt.Errorf("at least one --member is required")
			}
			if out == "" {
				out = in + ".gkt"
			}
			plaintext, err := os.ReadFile(in)
			if err != nil {
				return err
			}

			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			agg, err := e.aggregator(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range members {
				if _, err := agg.AddMember(cmd.Context(), identity.MemberID(m)); err != nil {
					return fmt.Errorf("add %s: %w", m, err)
				}
			}
			if tree {
				fmt.Fprint(cmd.ErrOrStderr(), agg.Tree())
			}

			opts := e.artifactOptions()
			if cmd.Flags().Changed("compress") {
				opts.Compress = compress
			}
			if cmd.Flags().Changed("data-shards") || cmd.Flags().Changed("parity-shards") {
				opts.DataShards, opts.ParityShards = dataShards, parityShards
			}
			art, err := agg.Seal(plaintext, opts)
			if err != nil {
				return err
			}
			encoded, err := art.Encode()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, encoded, 0o600); err != nil {
				return err
			}
			e.log.WithFields(logrus.Fields{
				"artifact": art.ID.String(),
				"record":   art.Record,
				"members":  len(members),
				"bytes":    len(encoded),
			}).Info("sealed")

			if aux != "" {
				payload, err := os.ReadFile(aux)
				if err != nil {
					return err
				}
				frame, err := agg.SealAux(payload)
				if err != nil {
					return err
				}
				if auxOut == "" {
					auxOut = aux + ".gkt"
				}
				if err := os.WriteFile(auxOut, frame, 0o600); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&members, "member", "m", nil, "group member (repeatable)")
	f.StringVarP(&in, "in", "i", "", "input file")
	f.StringVarP(&out, "out", "o", "", "output artifact (default <in>.gkt)")
	f.StringVar(&aux, "aux", "", "auxiliary payload file sealed as a single frame")
	f.StringVar(&auxOut, "aux-out", "", "where to write the sealed auxiliary frame (default <aux>.gkt)")
	f.BoolVar(&tree, "tree", false, "print the membership tree to stderr")
	f.BoolVar(&compress, "compress", false, "LZ4-compress before encrypting")
	f.IntVar(&dataShards, "data-shards", 0, "erasure data shards")
	f.IntVar(&parityShards, "parity-shards", 0, "erasure parity shards")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
