package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")
	ErrMalformedMessage  = errors.New("protocol: malformed message")
)

// Join announces a member to the aggregator.
type Join struct {
	Member    string `json:"member"`
	PublicKey []byte `json:"public_key"`
}

// Welcome acknowledges a join.
type Welcome struct {
	AggregatorKey []byte `json:"aggregator_key"`
	Members       int    `json:"members"`
}

// Key carries a key record sealed for the receiving member.
type Key struct {
	Record string `json:"record"`
	Sealed []byte `json:"sealed"`
}

// Error rejects a request.
type Error struct {
	Message string `json:"message"`
}

// RemoteError is returned by ReadMessage when the peer sent ERROR.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "protocol: remote error: " + e.Message }

// WriteMessage JSON-encodes v into a frame of type t. A nil v writes an
// empty payload.
func WriteMessage(w io.Writer, t MessageType, v any) error {
	var payload []byte
	if v != nil {
		var err error
		if payload, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return WriteFrame(w, Frame{Type: t, Payload: payload})
}

// ReadMessage reads one frame, which must be of type want, and decodes its
// payload into v (skipped when v is nil). An ERROR frame is returned as a
// *RemoteError.
func ReadMessage(r io.Reader, want MessageType, v any) error {
	f, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if f.Type == MessageTypeError && want != MessageTypeError {
		var e Error
		if err := json.Unmarshal(f.Payload, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return &RemoteError{Message: e.Message}
	}
	if f.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, f.Type, want)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, f.Type, err)
	}
	return nil
}
