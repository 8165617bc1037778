package probe

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestNetProberTCP dials a local listener and a closed port
func TestNetProberTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := NetProber{Timeout: time.Second}
	if err := p.Probe(context.Background(), "tcp", addr); err != nil {
		t.Fatalf("expected open port, got %v", err)
	}

	_ = ln.Close()
	if err := p.Probe(context.Background(), "tcp", addr); err == nil {
		t.Fatalf("expected closed port to fail")
	}
}

// TestNetProberUnix dials a unix socket listener
func TestNetProberUnix(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pg.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	if err := (NetProber{}).Probe(context.Background(), "unix", sock); err != nil {
		t.Fatalf("unix probe: %v", err)
	}
}

func TestNetProberCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (NetProber{}).Probe(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}

func TestCheck(t *testing.T) {
	down := errors.New("connection refused")
	p := ProberFunc(func(ctx context.Context, network, address string) error {
		if address == "mongodb:27017" {
			return down
		}
		return nil
	})

	ok := Check(context.Background(), p, "PG", "tcp", "postgres:5432")
	if !ok.OK || ok.Error() != "" || ok.Target != "PG" {
		t.Fatalf("unexpected result: %+v", ok)
	}
	bad := Check(context.Background(), p, "mongoDB", "tcp", "mongodb:27017")
	if bad.OK || !errors.Is(bad.Err, down) || bad.Error() != "connection refused" {
		t.Fatalf("unexpected result: %+v", bad)
	}
	if bad.CheckedAt.IsZero() {
		t.Fatalf("expected CheckedAt to be set")
	}
}

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		network, address string
		ok               bool
	}{
		{"tcp", "postgres:5432", true},
		{"tcp", "mongodb:27017", true},
		{"tcp", "[::1]:80", true},
		{"tcp", "postgres", false},
		{"tcp", ":5432", false},
		{"tcp", "postgres:", false},
		{"tcp", "postgres:notaport", false},
		{"unix", "/var/run/postgresql/.s.PGSQL.5432", true},
		{"unix", "", false},
		{"udp", "dns:53", false},
	}
	for _, c := range cases {
		err := ValidateAddress(c.network, c.address)
		if (err == nil) != c.ok {
			t.Errorf("ValidateAddress(%q, %q) = %v, want ok=%v", c.network, c.address, err, c.ok)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(time.Second)
	if diff := cmp.Diff([]string{"tcp", "tcp4", "tcp6", "unix"}, r.Networks()); diff != "" {
		t.Fatalf("networks mismatch (-want +got):\n%s", diff)
	}
	if _, err := r.Get("tcp"); err != nil {
		t.Fatalf("get tcp: %v", err)
	}
	if _, err := r.Get("udp"); err == nil {
		t.Fatalf("expected udp to be unregistered")
	}
}
