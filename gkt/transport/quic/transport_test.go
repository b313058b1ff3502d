package quic

import (
	"context"
	"crypto/tls"
	"io"
	"testing"
	"time"
)

func TestServerTLSConfig(t *testing.T) {
	conf, err := ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig: %v", err)
	}
	if conf.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version = %x", conf.MinVersion)
	}
	if len(conf.Certificates) != 1 || len(conf.NextProtos) != 1 || conf.NextProtos[0] != ALPN {
		t.Fatalf("unexpected config: %+v", conf)
	}
}

func TestDialListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			errCh <- err
			return
		}
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			errCh <- err
			return
		}
		_, err = io.Copy(st, st)
		st.Close()
		errCh <- err
	}()

	conn, err := Dial(ctx, ln.AddrString())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseWithError(0, "")
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("OpenStreamSync: %v", err)
	}
	if _, err := st.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st.Close()
	got, err := io.ReadAll(st)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("echo = %q", got)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server: %v", err)
	}
}
