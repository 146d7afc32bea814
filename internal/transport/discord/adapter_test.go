package discord

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"tailwatch/internal/ratelimit"
	kit "tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

// rewrite sends every request to the test server.
type rewrite struct{ target *url.URL }

func (r rewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	req.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestAdapter(t *testing.T, h http.HandlerFunc) (*Adapter, *ratelimit.Limiter) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	lim := ratelimit.New(ratelimit.Config{})
	a, err := New(Config{Token: "tok"}, nil, lim, logx.Nop(), WithTransport(rewrite{target: u}))
	if err != nil {
		t.Fatal(err)
	}
	return a, lim
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, nil, nil, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendRetriesOnceAfter429(t *testing.T) {
	var hits atomic.Int32
	a, lim := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/channels/123/messages") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bot tok" {
			t.Errorf("authorization=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.05,"global":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","channel_id":"123","content":"hi"}`))
	})

	if err := a.Send(context.Background(), "123", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d", hits.Load())
	}
	if lim.RetryAfter().IsZero() {
		t.Fatal("limiter did not learn retry-after")
	}
}

func TestSendSurfacesSecond429(t *testing.T) {
	var hits atomic.Int32
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down","retry_after":0.01,"global":false}`))
	})
	if err := a.Send(context.Background(), "123", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 2 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestHeaderTransportFeedsLimiter(t *testing.T) {
	a, lim := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-After", "0.01")
		_, _ = w.Write([]byte(`{"id":"1","channel_id":"123","content":"hi"}`))
	})
	if err := a.Send(context.Background(), "123", "hi"); err != nil {
		t.Fatal(err)
	}
	if lim.RetryAfter().IsZero() {
		t.Fatal("expected reset-after deadline")
	}
}

func TestResolveDestinationFallsBack(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/channels/777"):
			_, _ = w.Write([]byte(`{"id":"777","guild_id":"g1","type":0}`))
		case strings.HasSuffix(r.URL.Path, "/channels/999"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
		case strings.HasSuffix(r.URL.Path, "/guilds/g1/channels"):
			_, _ = w.Write([]byte(`[
				{"id":"v","guild_id":"g1","type":2,"position":0},
				{"id":"b","guild_id":"g1","type":0,"position":2},
				{"id":"a","guild_id":"g1","type":0,"position":1}
			]`))
		case strings.HasSuffix(r.URL.Path, "/guilds/g2/channels"):
			_, _ = w.Write([]byte(`[{"id":"v","guild_id":"g2","type":2,"position":0}]`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	cases := []struct {
		name    string
		guild   string
		current string
		want    string
		wantErr error
	}{
		{"current valid", "g1", "777", "777", nil},
		{"current gone", "g1", "999", "a", nil},
		{"current in other guild", "g2", "777", "", kit.ErrNoDestination},
		{"unset", "g1", "", "a", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.ResolveDestination(ctx, tc.guild, tc.current)
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestToMessageEmbed(t *testing.T) {
	me := toMessageEmbed(kit.Embed{
		Title:  "Tailscale Devices",
		Color:  kit.ColorBlue,
		Fields: []kit.EmbedField{{Name: "a", Value: "b", Inline: true}},
		Footer: "foot",
	})
	if me.Title != "Tailscale Devices" || me.Color != kit.ColorBlue || len(me.Fields) != 1 || !me.Fields[0].Inline {
		t.Fatalf("embed=%+v", me)
	}
	if me.Footer == nil || me.Footer.Text != "foot" {
		t.Fatal("footer missing")
	}
	if toMessageEmbed(kit.Embed{}).Footer != nil {
		t.Fatal("empty footer should be omitted")
	}
}

func TestFirstTextChannel(t *testing.T) {
	chans := []*discordgo.Channel{
		{ID: "voice", Type: discordgo.ChannelTypeGuildVoice, Position: 0},
		{ID: "late", Type: discordgo.ChannelTypeGuildText, Position: 5},
		nil,
		{ID: "early", Type: discordgo.ChannelTypeGuildText, Position: 1},
	}
	if got := firstTextChannel(chans); got != "early" {
		t.Fatalf("got %q", got)
	}
	if got := firstTextChannel(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	a, _ := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
