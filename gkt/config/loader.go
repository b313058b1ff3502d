package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// SetDefaults registers every key with its built-in value. Keys unknown to
// viper are not picked up by AutomaticEnv, so all of them are set here.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("record_name", d.RecordName)

	v.SetDefault("keystore.backend", d.Keystore.Backend)
	v.SetDefault("keystore.passphrase", d.Keystore.Passphrase)

	v.SetDefault("cipher.chunk_size", d.Cipher.ChunkSize)

	v.SetDefault("artifact.compress", d.Artifact.Compress)
	v.SetDefault("artifact.level", d.Artifact.Level)
	v.SetDefault("artifact.erasure_data", d.Artifact.ErasureData)
	v.SetDefault("artifact.erasure_parity", d.Artifact.ErasureParity)

	v.SetDefault("distribution.listen_addr", d.Distribution.ListenAddr)
	v.SetDefault("distribution.aggregator", d.Distribution.Aggregator)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// BindFlags declares the global flags on f and binds them to v.
func BindFlags(f *pflag.FlagSet, v *viper.Viper) {
	f.String("config", "", "config file path (YAML)")
	f.String("data-dir", "", "data directory (default ~/.gkt)")
	f.String("record", "", "key record name")
	f.String("keystore", "", "keystore backend (fs, badger, memory)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("record_name", f.Lookup("record"))
	_ = v.BindPFlag("keystore.backend", f.Lookup("keystore"))
	_ = v.BindPFlag("log.level", f.Lookup("log-level"))
	_ = v.BindPFlag("log.format", f.Lookup("log-format"))
}

// Load resolves the configuration held by v. configFile is optional; when
// empty, config.yaml is looked up in the working directory and the default
// data directory, and a missing file is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the built-in configuration as a YAML template. An
// existing file is left alone.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
