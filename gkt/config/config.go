// Package config loads gkt settings from defaults, an optional YAML file,
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/record"
	"github.com/TheusHen/gkt/gkt/transfer"
)

// EnvPrefix prefixes every environment override, e.g. GKT_KEYSTORE_BACKEND.
const EnvPrefix = "GKT"

// Keystore backends.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	DataDir      string             `mapstructure:"data_dir" yaml:"data_dir"`
	RecordName   string             `mapstructure:"record_name" yaml:"record_name"`
	Keystore     KeystoreConfig     `mapstructure:"keystore" yaml:"keystore"`
	Cipher       CipherConfig       `mapstructure:"cipher" yaml:"cipher"`
	Artifact     ArtifactConfig     `mapstructure:"artifact" yaml:"artifact"`
	Distribution DistributionConfig `mapstructure:"distribution" yaml:"distribution"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
}

type KeystoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Passphrase seals private keys at rest. Empty stores them unsealed.
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
}

type CipherConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
}

type ArtifactConfig struct {
	Compress      bool   `mapstructure:"compress" yaml:"compress"`
	Level         string `mapstructure:"level" yaml:"level"`
	ErasureData   int    `mapstructure:"erasure_data" yaml:"erasure_data"`
	ErasureParity int    `mapstructure:"erasure_parity" yaml:"erasure_parity"`
}

type DistributionConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// Aggregator is the hex public key members pin when joining.
	Aggregator string `mapstructure:"aggregator" yaml:"aggregator"`
	// Allow lists "member=fingerprint" entries: each member may only join
	// with the key whose hex fingerprint is given. Empty admits any member
	// id not yet in the group. A list rather than a map, since viper folds
	// map keys to lower case.
	Allow []string `mapstructure:"allow" yaml:"allow,omitempty"`
}

// AllowList parses Distribution.Allow. It returns nil when the list is
// empty.
func (c Config) AllowList() (map[identity.MemberID]identity.Fingerprint, error) {
	if len(c.Distribution.Allow) == 0 {
		return nil, nil
	}
	out := make(map[identity.MemberID]identity.Fingerprint, len(c.Distribution.Allow))
	for _, entry := range c.Distribution.Allow {
		m, hexFP, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: distribution.allow entry %q is not member=fingerprint", ErrInvalid, entry)
		}
		member := identity.MemberID(m)
		if err := member.Validate(); err != nil {
			return nil, fmt.Errorf("%w: distribution.allow member %q", ErrInvalid, m)
		}
		fp, err := identity.ParseFingerprintHex(hexFP)
		if err != nil {
			return nil, fmt.Errorf("%w: distribution.allow[%s]: %v", ErrInvalid, m, err)
		}
		out[member] = fp
	}
	return out, nil
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics while the aggregator runs. Empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultDataDir returns ~/.gkt, or .gkt when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gkt"
	}
	return filepath.Join(home, ".gkt")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		RecordName: "group.key",
		Keystore:   KeystoreConfig{Backend: BackendFS},
		Cipher:     CipherConfig{ChunkSize: transfer.DefaultChunkSize},
		Artifact:   ArtifactConfig{Level: "default"},
		Distribution: DistributionConfig{
			ListenAddr: "127.0.0.1:7443",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// KeysDir is where keystore backends keep their data.
func (c Config) KeysDir() string { return filepath.Join(c.DataDir, "keystore") }

// RecordsDir is where key records are written.
func (c Config) RecordsDir() string { return filepath.Join(c.DataDir, "records") }

// Validate checks values that cannot be caught by decoding alone.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	if err := record.ValidName(c.RecordName); err != nil {
		return fmt.Errorf("%w: record_name %q", ErrInvalid, c.RecordName)
	}
	switch c.Keystore.Backend {
	case BackendFS, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown keystore backend %q", ErrInvalid, c.Keystore.Backend)
	}
	if c.Cipher.ChunkSize <= 0 {
		return fmt.Errorf("%w: cipher.chunk_size must be positive", ErrInvalid)
	}
	switch c.Artifact.Level {
	case "fast", "default", "best":
	default:
		return fmt.Errorf("%w: artifact.level %q", ErrInvalid, c.Artifact.Level)
	}
	d, p := c.Artifact.ErasureData, c.Artifact.ErasureParity
	if d < 0 || p < 0 || (d == 0) != (p == 0) {
		return fmt.Errorf("%w: artifact erasure needs both data and parity shards", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if _, err := c.AllowList(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
