package inventory

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	logx "tailwatch/pkg/logx"
)

const DefaultDNSTTL = 10 * time.Minute

// FallbackAddrs are used when a lookup for one of these hosts fails outright.
var FallbackAddrs = map[string]string{
	"discord.com":        "162.159.136.232",
	"gateway.discord.gg": "162.159.135.232",
	"cdn.discordapp.com": "162.159.133.232",
}

// WarmHosts are resolved at startup.
var WarmHosts = []string{"discord.com", "gateway.discord.gg", "cdn.discordapp.com"}

// LookupFunc matches (*net.Resolver).LookupHost.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type ResolverConfig struct {
	TTL      time.Duration
	Fallback map[string]string
}

// CachingResolver memoizes host lookups for TTL and falls back to a fixed
// address table for known hosts.
type CachingResolver struct {
	ttl      time.Duration
	fallback map[string]string
	lookup   LookupFunc
	dialer   *net.Dialer
	log      logx.Logger

	cache *ristretto.Cache[string, []string]
	group singleflight.Group

	mu    sync.Mutex
	known map[string]CacheEntry
}

// CacheEntry is one row of Snapshot.
type CacheEntry struct {
	Host     string    `json:"host"`
	Addrs    []string  `json:"addrs"`
	Fallback bool      `json:"fallback,omitempty"`
	Expires  time.Time `json:"expires"`
}

type ResolverOption func(*CachingResolver)

func WithLookup(fn LookupFunc) ResolverOption {
	return func(r *CachingResolver) {
		if fn != nil {
			r.lookup = fn
		}
	}
}

func NewCachingResolver(cfg ResolverConfig, log logx.Logger, opts ...ResolverOption) (*CachingResolver, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultDNSTTL
	}
	if cfg.Fallback == nil {
		cfg.Fallback = FallbackAddrs
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	r := &CachingResolver{
		ttl:      cfg.TTL,
		fallback: cfg.Fallback,
		lookup:   net.DefaultResolver.LookupHost,
		dialer:   &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		log:      log,
		cache:    cache,
		known:    map[string]CacheEntry{},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *CachingResolver) Close() {
	if r != nil && r.cache != nil {
		r.cache.Close()
	}
}

// Resolve returns addresses for host, from cache when possible.
func (r *CachingResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}
	if addrs, ok := r.cache.Get(host); ok && len(addrs) > 0 {
		r.log.Trace("dns cache hit", logx.String("host", host))
		return addrs, nil
	}

	v, err, _ := r.group.Do(host, func() (any, error) {
		addrs, err := r.lookup(ctx, host)
		if err == nil && len(addrs) > 0 {
			r.store(host, addrs, false)
			r.log.Debug("dns cached", logx.String("host", host), logx.String("addr", addrs[0]))
			return addrs, nil
		}
		if err == nil {
			err = &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
		}
		if ip, ok := r.fallback[host]; ok {
			r.log.Warn("dns lookup failed, using fallback address",
				logx.String("host", host),
				logx.String("addr", ip),
				logx.Err(err),
			)
			addrs := []string{ip}
			r.store(host, addrs, true)
			return addrs, nil
		}
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (r *CachingResolver) store(host string, addrs []string, fallback bool) {
	cp := append([]string(nil), addrs...)
	r.cache.SetWithTTL(host, cp, 1, r.ttl)
	r.cache.Wait()

	r.mu.Lock()
	r.known[host] = CacheEntry{Host: host, Addrs: cp, Fallback: fallback, Expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
}

// Warm resolves hosts ahead of use. Failures are logged, not returned.
func (r *CachingResolver) Warm(ctx context.Context, hosts ...string) {
	if len(hosts) == 0 {
		hosts = WarmHosts
	}
	for _, h := range hosts {
		if _, err := r.Resolve(ctx, h); err != nil {
			r.log.Warn("dns warm failed", logx.String("host", h), logx.Err(err))
			continue
		}
		r.log.Info("dns pre-cached", logx.String("host", h))
	}
}

// Snapshot lists unexpired entries sorted by host.
func (r *CachingResolver) Snapshot() []CacheEntry {
	now := time.Now()
	r.mu.Lock()
	out := make([]CacheEntry, 0, len(r.known))
	for h, e := range r.known {
		if now.After(e.Expires) {
			delete(r.known, h)
			continue
		}
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// DialContext dials each resolved address in turn.
func (r *CachingResolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	addrs, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, ip := range addrs {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// Transport returns an http.Transport dialing through r.
func (r *CachingResolver) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = r.DialContext
	return t
}

// HTTPClient wraps Transport with the given overall timeout.
func (r *CachingResolver) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: r.Transport(), Timeout: timeout}
}
