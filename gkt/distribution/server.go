package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/gkt/gkt/crypto"
	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/logging"
	"github.com/TheusHen/gkt/gkt/protocol"
	"github.com/TheusHen/gkt/gkt/transport/quic"
)

const exchangeTimeout = 10 * time.Second

// Admission is what the aggregator hands a newly admitted member.
type Admission struct {
	RecordName string
	Record     []byte // encoded key record
	Members    int
}

// Admitter decides whether a member may join and returns the key record it
// should receive. Implementations serialize their own state.
type Admitter interface {
	Admit(ctx context.Context, member identity.MemberID, publicKey [32]byte) (Admission, error)
}

// AdmitFunc adapts a function to Admitter.
type AdmitFunc func(ctx context.Context, member identity.MemberID, publicKey [32]byte) (Admission, error)

func (f AdmitFunc) Admit(ctx context.Context, member identity.MemberID, publicKey [32]byte) (Admission, error) {
	return f(ctx, member, publicKey)
}

// Server answers JOIN requests on behalf of an aggregator.
type Server struct {
	keys  crypto.X25519KeyPair
	admit Admitter
	log   logrus.FieldLogger

	wg sync.WaitGroup
}

// NewServer creates a server sealing records with the aggregator key pair.
func NewServer(keys crypto.X25519KeyPair, admit Admitter, log logrus.FieldLogger) *Server {
	return &Server{keys: keys, admit: admit, log: logging.OrDiscard(log)}
}

// Serve accepts connections until ctx is done or the listener fails. Each
// connection is handled on its own goroutine; Serve waits for them before
// returning.
func (s *Server) Serve(ctx context.Context, ln *quic.Listener) error {
	defer s.wg.Wait()
	s.log.WithField("addr", ln.AddrString()).Info("distribution server listening")
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("distribution: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn q.Connection) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	log := s.log.WithField("remote", conn.RemoteAddr().String())

	if err := s.exchange(ctx, conn, log); err != nil {
		log.WithError(err).Warn("join failed")
		conn.CloseWithError(1, "join failed")
		return
	}
	conn.CloseWithError(0, "")
}

func (s *Server) exchange(ctx context.Context, conn q.Connection, log logrus.FieldLogger) error {
	control, err := conn.AcceptStream(ctx)
	if err != nil {
		return err
	}
	defer control.Close()
	if dl, ok := ctx.Deadline(); ok {
		control.SetDeadline(dl)
	}

	var join protocol.Join
	if err := protocol.ReadMessage(control, protocol.MessageTypeJoin, &join); err != nil {
		return err
	}
	member := identity.MemberID(join.Member)
	pub, err := crypto.ParsePublicKey(join.PublicKey)
	if err == nil {
		err = member.Validate()
	}
	if err != nil {
		reject(ctx, conn, control, err)
		return err
	}
	log = log.WithField("member", member)

	adm, err := s.admit.Admit(ctx, member, pub)
	if err != nil {
		reject(ctx, conn, control, err)
		return err
	}
	sealed, err := Wrap(s.keys, member, pub, adm.Record)
	if err != nil {
		reject(ctx, conn, control, errors.New("internal error"))
		return err
	}

	if err := protocol.WriteMessage(control, protocol.MessageTypeWelcome, protocol.Welcome{
		AggregatorKey: s.keys.PublicKey[:],
		Members:       adm.Members,
	}); err != nil {
		return err
	}
	if err := protocol.WriteMessage(control, protocol.MessageTypeKey, protocol.Key{
		Record: adm.RecordName,
		Sealed: sealed,
	}); err != nil {
		return err
	}
	if err := protocol.WriteMessage(control, protocol.MessageTypeClose, nil); err != nil {
		return err
	}
	// The member confirms receipt; closing earlier could drop unacknowledged data.
	if err := protocol.ReadMessage(control, protocol.MessageTypeClose, nil); err != nil {
		return err
	}
	log.WithField("members", adm.Members).Info("member admitted")
	return nil
}

// reject sends ERROR and waits for the member to hang up, so the message is
// delivered before the connection is torn down.
func reject(ctx context.Context, conn q.Connection, control q.Stream, cause error) {
	if err := protocol.WriteMessage(control, protocol.MessageTypeError, protocol.Error{Message: cause.Error()}); err != nil {
		return
	}
	control.Close()
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
	}
}
