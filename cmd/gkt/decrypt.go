package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt"
	"github.com/TheusHen/gkt/gkt/stream"
)

var errUnreliable = errors.New("decrypted output is not reliable")

func newDecryptCmd(load loader) *cobra.Command {
	var (
		in     string
		out    string
		lost   []int
		aux    bool
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open an artifact with its key record",
		Long: `Decrypt an artifact using the key record it names.

Corrupted frames do not stop decryption: every frame is reported as intact,
checksum-mismatch or degraded, and the plaintext is written regardless.
Use --strict to fail when any frame is not intact.

With --aux, the input is treated as an auxiliary frame and only the number
of bytes recorded in the key record is read from it.

Examples:
  gkt decrypt -i report.pdf.gkt -o report.pdf
  gkt decrypt -i data.bin.gkt --lost 0,3 -o data.bin
  gkt decrypt -i image.aux --aux`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()

			var (
				plaintext []byte
				report    *stream.Report
			)
			if aux {
				plaintext, err = gkt.OpenAux(e.records, e.cipher, e.cfg.RecordName, data)
			} else {
				plaintext, report, err = gkt.Open(e.records, e.cipher, data, lost...)
			}
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(plaintext); err != nil {
				return err
			}

			if report == nil {
				return nil
			}
			entry := e.log.WithFields(logrus.Fields{
				"frames":            len(report.Frames),
				"intact":            report.Count(stream.StatusIntact),
				"checksum_mismatch": report.Count(stream.StatusChecksumMismatch),
				"degraded":          report.Count(stream.StatusDegraded),
				"discarded":         report.DiscardedTrailing,
			})
			if report.Reliable() {
				entry.Info("decrypted")
				return nil
			}
			entry.Warn("decrypted with damaged frames")
			for _, fr := range report.Frames {
				if fr.Status != stream.StatusIntact {
					fmt.Fprintf(cmd.ErrOrStderr(), "frame %d at %d: %s (%d blocks substituted)\n",
						fr.Index, fr.Offset, fr.Status, fr.Substituted)
				}
			}
			if strict {
				return errUnreliable
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "", "input artifact")
	f.StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	f.IntSliceVar(&lost, "lost", nil, "erasure shards known to be lost")
	f.BoolVar(&aux, "aux", false, "input is an auxiliary frame")
	f.BoolVar(&strict, "strict", false, "fail unless every frame is intact")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
