package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDiagnosticsAllPass(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method=%s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var dialed []string
	d := Diagnostics{
		Hosts: []string{"discord.com"},
		URLs:  []string{srv.URL},
		Lookup: func(context.Context, string) ([]string, error) {
			return []string{"162.159.128.233"}, nil
		},
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialed = append(dialed, addr)
			var nd net.Dialer
			return nd.DialContext(ctx, network, ln.Addr().String())
		},
		Ping: func(context.Context, string) (time.Duration, error) {
			return 12 * time.Millisecond, nil
		},
		HTTP:    srv.Client(),
		Timeout: 2 * time.Second,
	}
	var out bytes.Buffer
	if err := d.Run(context.Background(), &out); err != nil {
		t.Fatalf("err=%v\n%s", err, out.String())
	}
	if len(dialed) != 1 || dialed[0] != "discord.com:443" {
		t.Fatalf("dialed=%q", dialed)
	}
	text := out.String()
	for _, want := range []string{"✓ resolved discord.com to 162.159.128.233", "✓ discord.com replied in 12ms", "✓ connected to discord.com:443", "returned 404", "All checks passed."} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "✗") {
		t.Fatalf("unexpected failure:\n%s", text)
	}
}

func TestDiagnosticsReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	d := Diagnostics{
		Hosts:  []string{"a.example", "b.example"},
		URLs:   []string{"http://127.0.0.1:1"},
		Lookup: func(context.Context, string) ([]string, error) { return nil, boom },
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, boom
		},
		Ping:    func(context.Context, string) (time.Duration, error) { return 0, boom },
		Timeout: time.Second,
	}
	var out bytes.Buffer
	err := d.Run(context.Background(), &out)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	// 2 lookups, 2 pings, 2 dials, 1 request.
	if n := strings.Count(out.String(), "✗"); n != 7 {
		t.Fatalf("failures=%d\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "7 check(s) failed.") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestDiagnosticsEmptyLookupFails(t *testing.T) {
	d := Diagnostics{
		Hosts:  []string{"a.example"},
		URLs:   []string{},
		Lookup: func(context.Context, string) ([]string, error) { return nil, nil },
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("refused")
		},
		Ping: func(context.Context, string) (time.Duration, error) { return time.Millisecond, nil },
	}
	var out bytes.Buffer
	if err := d.Run(context.Background(), &out); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out.String(), "no addresses") {
		t.Fatalf("output:\n%s", out.String())
	}
}
