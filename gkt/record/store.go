package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/logging"
)

var (
	ErrNotFound    = errors.New("record: not found")
	ErrClosed      = errors.New("record: store closed")
	ErrInvalidName = errors.New("record: invalid record name")
)

// Store keeps key records as files in a directory, one file per name.
// Writes go through a synced temporary file and a rename, so a reader never
// sees a partial record.
type Store struct {
	dir string
	log logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) a store rooted at dir.
func Open(dir string, log logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("record: create store dir: %w", err)
	}
	return &Store{dir: dir, log: logging.OrDiscard(log)}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Put writes r under name, replacing any existing record.
func (s *Store) Put(name string, r Record) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(name); err != nil {
		return err
	}
	if err := s.write(name, data); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"record": name, "aux": r.HasAux}).Debug("key record written")
	return nil
}

// Get loads the record stored under name.
func (s *Store) Get(name string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(name); err != nil {
		return Record{}, err
	}
	return s.get(name)
}

func (s *Store) get(name string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("record: read %s: %w", name, err)
	}
	rec, err := Load(data)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", name, err)
	}
	return rec, nil
}

// SetAuxLength records the length of the auxiliary payload produced after
// the key was stored. The record is rewritten in tagged form; a legacy
// record is upgraded in the process.
func (s *Store) SetAuxLength(name string, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(name); err != nil {
		return err
	}
	rec, err := s.get(name)
	if err != nil {
		return err
	}
	data, err := Save(rec.Key, &n)
	if err != nil {
		return err
	}
	return s.write(name, data)
}

func (s *Store) write(name string, data []byte) error {
	if err := renameio.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("record: write %s: %w", name, err)
	}
	return nil
}

// Delete removes the record stored under name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// Names lists stored record names in lexical order.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && ValidName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(name string) error {
	if s.closed {
		return ErrClosed
	}
	return ValidName(name)
}

// ValidName reports whether name can be used as a record name: a single
// path element that does not start with a dot.
func ValidName(name string) error {
	if name == "" || len(name) > 255 || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`+"\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
