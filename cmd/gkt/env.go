package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt"
	"github.com/TheusHen/gkt/gkt/artifact"
	"github.com/TheusHen/gkt/gkt/config"
	"github.com/TheusHen/gkt/gkt/keystore"
	ksbadger "github.com/TheusHen/gkt/gkt/keystore/badger"
	ksfs "github.com/TheusHen/gkt/gkt/keystore/fs"
	"github.com/TheusHen/gkt/gkt/keystore/memory"
	"github.com/TheusHen/gkt/gkt/logging"
	"github.com/TheusHen/gkt/gkt/metrics"
	"github.com/TheusHen/gkt/gkt/record"
	"github.com/TheusHen/gkt/gkt/stream"
	"github.com/TheusHen/gkt/gkt/transfer"
)

// env holds everything a command needs, built from the loaded config.
type env struct {
	cfg      config.Config
	log      *logrus.Logger
	metrics  *metrics.Collectors
	registry *prometheus.Registry
	keystore keystore.Keystore
	records  *record.Store
	cipher   *stream.Cipher
}

type loader func() (*env, error)

func openEnv(cfg config.Config) (*env, error) {
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}

	ks, err := openKeystore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	records, err := record.Open(cfg.RecordsDir(), log)
	if err != nil {
		ks.Close()
		return nil, fmt.Errorf("open records: %w", err)
	}

	return &env{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		registry: reg,
		keystore: ks,
		records:  records,
		cipher: stream.New(
			stream.WithChunkSize(cfg.Cipher.ChunkSize),
			stream.WithLogger(log),
			stream.WithMetrics(m),
		),
	}, nil
}

func openKeystore(cfg config.Config, log logrus.FieldLogger) (keystore.Keystore, error) {
	dir := filepath.Join(cfg.KeysDir(), cfg.Keystore.Backend)
	switch cfg.Keystore.Backend {
	case config.BackendFS:
		return ksfs.Open(dir, ksfs.WithPassphrase(cfg.Keystore.Passphrase), ksfs.WithLogger(log))
	case config.BackendBadger:
		return ksbadger.Open(dir, ksbadger.WithPassphrase(cfg.Keystore.Passphrase), ksbadger.WithLogger(log))
	case config.BackendMemory:
		log.Warn("memory keystore: identities are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown keystore backend %q", cfg.Keystore.Backend)
	}
}

func (e *env) aggregator(ctx context.Context) (*gkt.Aggregator, error) {
	allow, err := e.cfg.AllowList()
	if err != nil {
		return nil, err
	}
	return gkt.NewAggregator(ctx, gkt.Config{
		Keystore:   e.keystore,
		Records:    e.records,
		RecordName: e.cfg.RecordName,
		Cipher:     e.cipher,
		Allow:      allow,
		Logger:     e.log,
		Metrics:    e.metrics,
	})
}

func (e *env) artifactOptions() artifact.Options {
	return artifact.Options{
		Compress:     e.cfg.Artifact.Compress,
		Level:        transfer.ParseCompressionLevel(e.cfg.Artifact.Level),
		DataShards:   e.cfg.Artifact.ErasureData,
		ParityShards: e.cfg.Artifact.ErasureParity,
	}
}

func (e *env) Close() error {
	return errors.Join(e.records.Close(), e.keystore.Close())
}
