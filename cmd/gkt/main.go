// Command gkt manages group keys: member identities, group key derivation,
// chunked encryption of files and key distribution over QUIC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TheusHen/gkt/gkt/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd(viper.New()).ExecuteContext(ctx)
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gkt",
		Short: "Group key tree and chunked cipher",
		Long: `gkt derives a shared group key from member identities and uses it to
encrypt files in independently decryptable frames.

Commands:
  gkt init                         Write a default config file
  gkt keygen <member>...           Create or show member identities
  gkt encrypt -m a -m b -i f       Derive a group key and seal f
  gkt decrypt -i f.gkt             Open an artifact with its key record
  gkt record show [name]           Inspect a key record
  gkt serve -m a                   Run the key distribution aggregator
  gkt join <addr> <member>         Fetch the group key from an aggregator`,
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	config.BindFlags(pf, v)

	load := func() (*env, error) {
		configFile, _ := pf.GetString("config")
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, err
		}
		return openEnv(cfg)
	}

	rootCmd.AddCommand(newInitCmd(pf))
	rootCmd.AddCommand(newKeygenCmd(load))
	rootCmd.AddCommand(newEncryptCmd(load))
	rootCmd.AddCommand(newDecryptCmd(load))
	rootCmd.AddCommand(newRecordCmd(load))
	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newJoinCmd(load))
	return rootCmd
}
