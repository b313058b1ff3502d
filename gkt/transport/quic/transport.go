// Package quic carries the key distribution control stream over QUIC.
package quic

import (
	"context"
	"fmt"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

const (
	idleTimeout      = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

func config() *q.Config {
	return &q.Config{
		MaxIdleTimeout:       idleTimeout,
		HandshakeIdleTimeout: handshakeTimeout,
		// One control stream per member connection.
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

// Listener accepts member connections for the aggregator.
type Listener struct {
	inner *q.Listener
}

// Listen starts a QUIC listener on addr (host:port, port 0 picks one).
func Listen(addr string) (*Listener, error) {
	tlsConf, err := ServerTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("quic: server certificate: %w", err)
	}
	ln, err := q.ListenAddr(addr, tlsConf, config())
	if err != nil {
		return nil, fmt.Errorf("quic: listen %s: %w", addr, err)
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// AddrString returns the bound address, suitable for Dial.
func (l *Listener) AddrString() string { return l.inner.Addr().String() }

func (l *Listener) Close() error { return l.inner.Close() }

// Dial connects to the aggregator at addr.
func Dial(ctx context.Context, addr string) (q.Connection, error) {
	return q.DialAddr(ctx, addr, ClientTLSConfig(), config())
}
