package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeKey, Payload: []byte("sealed")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type mismatch")
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, mt := range []MessageType{MessageTypeWelcome, MessageTypeKey, MessageTypeClose} {
		if err := WriteFrame(&buf, Frame{Type: mt, Payload: []byte(mt.String())}); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []MessageType{MessageTypeWelcome, MessageTypeKey, MessageTypeClose} {
		f, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(%s): %v", want, err)
		}
		if f.Type != want || string(f.Payload) != want.String() {
			t.Fatalf("expected %s, got %s %q", want, f.Type, f.Payload)
		}
	}
}

func TestFrameLimits(t *testing.T) {
	if err := WriteFrame(&bytes.Buffer{}, Frame{}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if err := WriteFrame(&bytes.Buffer{}, Frame{Type: MessageTypeKey, Payload: make([]byte, MaxFramePayload+1)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	header := []byte{byte(MessageTypeKey), 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	join := Join{Member: "alice", PublicKey: bytes.Repeat([]byte{9}, 32)}
	if err := WriteMessage(&buf, MessageTypeJoin, join); err != nil {
		t.Fatal(err)
	}
	var got Join
	if err := ReadMessage(&buf, MessageTypeJoin, &got); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Member != join.Member || !bytes.Equal(got.PublicKey, join.PublicKey) {
		t.Fatalf("join mismatch: %+v", got)
	}

	WriteMessage(&buf, MessageTypeClose, nil)
	if err := ReadMessage(&buf, MessageTypeKey, &Key{}); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}

	WriteMessage(&buf, MessageTypeError, Error{Message: "unknown member"})
	err := ReadMessage(&buf, MessageTypeWelcome, &Welcome{})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "unknown member" {
		t.Fatalf("expected RemoteError, got %v", err)
	}

	WriteFrame(&buf, Frame{Type: MessageTypeWelcome, Payload: []byte("{not json")})
	if err := ReadMessage(&buf, MessageTypeWelcome, &Welcome{}); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}
