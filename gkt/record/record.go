// Package record encodes derived group keys for storage and keeps them in a
// directory.
//
// A record is
//
//	"CHK1" || key (32 bytes) || [aux length, 4 bytes big-endian]
//
// Records written before the tag existed hold the key in their first 32
// bytes. Load accepts both; a record starting with "CHK1" is always read as
// tagged.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Tag marks a versioned record.
	Tag = "CHK1"
	// KeySize is the size of a stored group key.
	KeySize = 32
	// AuxSize is the size of the optional auxiliary length field.
	AuxSize = 4
)

var (
	ErrMalformed  = errors.New("record: malformed key record")
	ErrInvalidKey = errors.New("record: key must be 32 bytes")
)

// Record is a decoded key record.
type Record struct {
	Key []byte
	// AuxLength is the byte length of an auxiliary payload sealed under Key.
	// Only meaningful when HasAux is set.
	AuxLength uint32
	HasAux    bool
	// Legacy is set when the record had no tag.
	Legacy bool
}

// WithAux returns a copy of r carrying aux length n.
func (r Record) WithAux(n uint32) Record {
	r.AuxLength = n
	r.HasAux = true
	return r
}

// Save encodes key and, when auxLength is non-nil, the auxiliary length.
// Output is always tagged.
func Save(key []byte, auxLength *uint32) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	out := make([]byte, 0, len(Tag)+KeySize+AuxSize)
	out = append(out, Tag...)
	out = append(out, key...)
	if auxLength != nil {
		out = binary.BigEndian.AppendUint32(out, *auxLength)
	}
	return out, nil
}

// Encode is Save for a Record value.
func (r Record) Encode() ([]byte, error) {
	if !r.HasAux {
		return Save(r.Key, nil)
	}
	n := r.AuxLength
	return Save(r.Key, &n)
}

// Load decodes a tagged or legacy record. The body after the tag (or the
// whole input for legacy records) must be exactly 32 or 36 bytes.
func Load(data []byte) (Record, error) {
	var rec Record
	body := data
	if bytes.HasPrefix(data, []byte(Tag)) {
		body = data[len(Tag):]
	} else {
		rec.Legacy = true
	}

	switch len(body) {
	case KeySize:
	case KeySize + AuxSize:
		rec.AuxLength = binary.BigEndian.Uint32(body[KeySize:])
		rec.HasAux = true
	default:
		return Record{}, fmt.Errorf("%w: %d bytes after header", ErrMalformed, len(body))
	}
	rec.Key = append([]byte(nil), body[:KeySize]...)
	return rec, nil
}
