package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

var (
	DiagnosticHosts = []string{"discord.com", "google.com", "api.tailscale.com"}
	DiagnosticURLs  = []string{"https://www.google.com", "https://discord.com", "https://api.tailscale.com"}
)

// Diagnostics checks name resolution, ICMP ping, TCP and HTTPS reachability
// for a fixed host list.
type Diagnostics struct {
	Hosts []string
	URLs  []string

	Lookup func(ctx context.Context, host string) ([]string, error)
	Dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	// Ping returns the average round trip to host.
	Ping func(ctx context.Context, host string) (time.Duration, error)
	HTTP   *http.Client
	Port   string
	// Timeout bounds each individual check.
	Timeout time.Duration
}

func (d *Diagnostics) defaults() {
	if d.Hosts == nil {
		d.Hosts = DiagnosticHosts
	}
	if d.URLs == nil {
		d.URLs = DiagnosticURLs
	}
	if d.Lookup == nil {
		d.Lookup = net.DefaultResolver.LookupHost
	}
	if d.Dial == nil {
		d.Dial = (&net.Dialer{}).DialContext
	}
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Ping == nil {
		d.Ping = icmpPing
	}
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: d.Timeout}
	}
	if d.Port == "" {
		d.Port = "443"
	}
}

// Run prints one line per check to w. The returned error joins every
// failed check.
func (d Diagnostics) Run(ctx context.Context, w io.Writer) error {
	d.defaults()
	var errs []error
	check := func(label string, err error) {
		if err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", label, err)
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			return
		}
		fmt.Fprintf(w, "✓ %s\n", label)
	}

	fmt.Fprintln(w, "Running network diagnostics...")

	fmt.Fprintln(w, "\nDNS resolution:")
	for _, h := range d.Hosts {
		addrs, err := d.lookup(ctx, h)
		if err == nil {
			check(fmt.Sprintf("resolved %s to %s", h, strings.Join(addrs, ", ")), nil)
		} else {
			check("resolve "+h, err)
		}
	}

	fmt.Fprintln(w, "\nPing:")
	for _, h := range d.Hosts {
		rtt, err := d.ping(ctx, h)
		if err == nil {
			check(fmt.Sprintf("%s replied in %s", h, rtt.Round(time.Millisecond)), nil)
		} else {
			check("ping "+h, err)
		}
	}

	fmt.Fprintln(w, "\nTCP connectivity:")
	for _, h := range d.Hosts {
		addr := net.JoinHostPort(h, d.Port)
		took, err := d.dial(ctx, addr)
		if err == nil {
			check(fmt.Sprintf("connected to %s in %s", addr, took.Round(time.Millisecond)), nil)
		} else {
			check("connect "+addr, err)
		}
	}

	fmt.Fprintln(w, "\nHTTP connectivity:")
	for _, u := range d.URLs {
		status, err := d.head(ctx, u)
		if err == nil {
			check(fmt.Sprintf("%s returned %d", u, status), nil)
		} else {
			check("request "+u, err)
		}
	}

	if len(errs) == 0 {
		fmt.Fprintln(w, "\nAll checks passed.")
		return nil
	}
	fmt.Fprintf(w, "\n%d check(s) failed.\n", len(errs))
	return errors.Join(errs...)
}

func (d Diagnostics) lookup(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	addrs, err := d.Lookup(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses")
	}
	return addrs, err
}

func (d Diagnostics) ping(ctx context.Context, host string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	return d.Ping(ctx, host)
}

// icmpPing sends unprivileged (UDP) echo requests. On Linux this needs the
// process group inside net.ipv4.ping_group_range.
func icmpPing(ctx context.Context, host string) (time.Duration, error) {
	p, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	p.Count = 3
	p.Interval = 200 * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		p.Timeout = time.Until(dl)
	}
	p.SetPrivileged(false)
	if err := p.RunWithContext(ctx); err != nil {
		return 0, err
	}
	st := p.Statistics()
	if st.PacketsRecv == 0 {
		return 0, fmt.Errorf("no replies (%d sent)", st.PacketsSent)
	}
	return st.AvgRtt, nil
}

func (d Diagnostics) dial(ctx context.Context, addr string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	start := time.Now()
	conn, err := d.Dial(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	took := time.Since(start)
	_ = conn.Close()
	return took, nil
}

// head treats any HTTP response as reachable; only transport errors fail.
func (d Diagnostics) head(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
