package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/protocol"
	"github.com/TheusHen/gkt/gkt/record"
	"github.com/TheusHen/gkt/gkt/transport/quic"
)

var (
	ErrAggregatorMismatch = errors.New("distribution: aggregator key does not match the pinned key")
	ErrRejected           = errors.New("distribution: join rejected")
)

// Grant is what a member receives after joining.
type Grant struct {
	AggregatorKey [32]byte
	Members       int
	RecordName    string
	Record        record.Record
}

// JoinOptions tunes Join.
type JoinOptions struct {
	// Aggregator pins the expected aggregator public key. The zero value
	// accepts any key on first contact.
	Aggregator [32]byte
}

// Join connects to the aggregator at addr, announces self and returns the
// unsealed key record.
func Join(ctx context.Context, addr string, self identity.Identity, opts JoinOptions) (*Grant, error) {
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("distribution: dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	defer control.Close()
	if dl, ok := ctx.Deadline(); ok {
		control.SetDeadline(dl)
	}

	if err := protocol.WriteMessage(control, protocol.MessageTypeJoin, protocol.Join{
		Member:    string(self.Member),
		PublicKey: self.Keys.PublicKey[:],
	}); err != nil {
		return nil, err
	}

	var welcome protocol.Welcome
	if err := protocol.ReadMessage(control, protocol.MessageTypeWelcome, &welcome); err != nil {
		return nil, rejected(err)
	}
	aggPub, err := crypto.ParsePublicKey(welcome.AggregatorKey)
	if err != nil {
		return nil, err
	}
	if opts.Aggregator != ([32]byte{}) && opts.Aggregator != aggPub {
		return nil, ErrAggregatorMismatch
	}

	var key protocol.Key
	if err := protocol.ReadMessage(control, protocol.MessageTypeKey, &key); err != nil {
		return nil, rejected(err)
	}
	if err := protocol.ReadMessage(control, protocol.MessageTypeClose, nil); err != nil {
		return nil, err
	}
	if err := protocol.WriteMessage(control, protocol.MessageTypeClose, nil); err != nil {
		return nil, err
	}
	control.Close()
	// Let the aggregator read our CLOSE and hang up first.
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
	}

	raw, err := Unwrap(self, aggPub, key.Sealed)
	if err != nil {
		return nil, err
	}
	rec, err := record.Load(raw)
	if err != nil {
		return nil, err
	}
	return &Grant{
		AggregatorKey: aggPub,
		Members:       welcome.Members,
		RecordName:    key.Record,
		Record:        rec,
	}, nil
}

func rejected(err error) error {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("%w: %s", ErrRejected, remote.Message)
	}
	return err
}
