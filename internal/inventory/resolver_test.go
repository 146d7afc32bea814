package inventory

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	logx "tailwatch/pkg/logx"
)

func TestResolverCachesLookups(t *testing.T) {
	var calls atomic.Int32
	r, err := NewCachingResolver(ResolverConfig{}, logx.Nop(), WithLookup(func(ctx context.Context, host string) ([]string, error) {
		calls.Add(1)
		return []string{"10.0.0.7"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i := 0; i < 3; i++ {
		addrs, err := r.Resolve(context.Background(), "api.tailscale.com")
		if err != nil || len(addrs) != 1 || addrs[0] != "10.0.0.7" {
			t.Fatalf("resolve: %v %v", addrs, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("lookups=%d want 1", calls.Load())
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Host != "api.tailscale.com" || snap[0].Fallback {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestResolverFallback(t *testing.T) {
	fail := func(ctx context.Context, host string) ([]string, error) {
		return nil, &net.DNSError{Err: "server misbehaving", Name: host}
	}
	r, err := NewCachingResolver(ResolverConfig{}, logx.Nop(), WithLookup(fail))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	addrs, err := r.Resolve(context.Background(), "discord.com")
	if err != nil || len(addrs) != 1 || addrs[0] != "162.159.136.232" {
		t.Fatalf("fallback: %v %v", addrs, err)
	}

	_, err = r.Resolve(context.Background(), "example.invalid")
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Fatalf("unknown host err=%v", err)
	}

	snap := r.Snapshot()
	if len(snap) != 1 || !snap[0].Fallback {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestResolverPassesIPLiterals(t *testing.T) {
	r, err := NewCachingResolver(ResolverConfig{}, logx.Nop(), WithLookup(func(ctx context.Context, host string) ([]string, error) {
		t.Fatalf("lookup called for %s", host)
		return nil, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	addrs, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil || addrs[0] != "127.0.0.1" {
		t.Fatalf("%v %v", addrs, err)
	}
}

func TestResolverDialsResolvedAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Close()
		}
	}()

	r, err := NewCachingResolver(ResolverConfig{}, logx.Nop(), WithLookup(func(ctx context.Context, host string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("local.test", port))
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()
}
