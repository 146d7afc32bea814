// Package discord connects the command router and the notification
// scheduler to a Discord bot session.
package discord

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "tailwatch/internal/transport"
	"tailwatch/internal/transport/router"
	logx "tailwatch/pkg/logx"
)

const Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

type Config struct {
	Token          string
	RequestTimeout time.Duration
}

// Limiter is the part of the outbound rate limiter the adapter feeds.
type Limiter interface {
	Acquire(ctx context.Context) error
	UpdateFromResponse(h http.Header) bool
	Block(d time.Duration)
}

// ReadyFunc runs once per gateway READY with the guilds the bot is in.
type ReadyFunc func(ctx context.Context, guildIDs []string)

type Adapter struct {
	cfg Config
	log logx.Logger
	lim Limiter

	s      *discordgo.Session
	router *router.Router

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	onReady ReadyFunc
	open    bool
}

type Option func(*Adapter)

// WithTransport sets the base RoundTripper for REST calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Adapter) {
		if rt != nil {
			a.s.Client.Transport = &headerTransport{base: rt, lim: a.lim}
		}
	}
}

func WithReady(fn ReadyFunc) Option {
	return func(a *Adapter) { a.onReady = fn }
}

func New(cfg Config, rt *router.Router, lim Limiter, log logx.Logger, opts ...Option) (*Adapter, error) {
	tok := strings.TrimSpace(cfg.Token)
	if tok == "" {
		return nil, errors.New("discord token is empty")
	}
	tok = strings.TrimPrefix(tok, "Bot ")
	s, err := discordgo.New("Bot " + tok)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s.Identify.Intents = Intents
	// 429s are surfaced so the shared limiter decides how long to wait.
	s.ShouldRetryOnRateLimit = false
	s.Client = &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: &headerTransport{base: http.DefaultTransport, lim: lim},
	}

	a := &Adapter{cfg: cfg, log: log, lim: lim, s: s, router: rt, ctx: context.Background()}
	for _, o := range opts {
		o(a)
	}
	s.AddHandler(a.handleReady)
	s.AddHandler(a.handleMessage)
	return a, nil
}

// Session exposes the underlying session for diagnostics.
func (a *Adapter) Session() *discordgo.Session { return a.s }

// Start opens the gateway connection. Handlers run on ctx until Stop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	if err := a.s.Open(); err != nil {
		a.cancel()
		return err
	}
	a.open = true
	a.log.Info("discord gateway connected")
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil
	}
	a.open = false
	a.cancel()
	return a.s.Close()
}

func (a *Adapter) baseCtx() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	ids := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		ids = append(ids, g.ID)
	}
	user := ""
	if r.User != nil {
		user = r.User.Username
	}
	a.log.Info("discord ready", logx.String("user", user), logx.Int("guilds", len(ids)))
	if a.onReady != nil {
		a.onReady(a.baseCtx(), ids)
	}
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot || a.router == nil {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(m.Content), a.router.Prefix()) {
		return
	}
	msg := router.Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Text:       m.Content,
	}
	if m.GuildID != "" {
		perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			a.log.Debug("permission lookup failed", logx.String("author", m.Author.ID), logx.Err(err))
		}
		msg.IsAdmin = perms&discordgo.PermissionAdministrator != 0
	}
	a.router.Dispatch(a.baseCtx(), msg, a)
}

// Send posts text to a channel. A 429 blocks the limiter and is retried once.
func (a *Adapter) Send(ctx context.Context, channelID, text string) error {
	return a.withRetry(ctx, func() error {
		_, err := a.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		return err
	})
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	return a.Send(ctx, channelID, text)
}

func (a *Adapter) SendEmbed(ctx context.Context, channelID string, e kit.Embed) error {
	me := toMessageEmbed(e)
	return a.withRetry(ctx, func() error {
		_, err := a.s.ChannelMessageSendEmbed(channelID, me, discordgo.WithContext(ctx))
		return err
	})
}

func (a *Adapter) SetWatching(_ context.Context, text string) error {
	return a.s.UpdateWatchStatus(0, text)
}

// ResolveDestination keeps current when it is a channel of the guild and
// otherwise picks the guild's first text channel.
func (a *Adapter) ResolveDestination(ctx context.Context, guildID, current string) (string, error) {
	if current != "" {
		ch, err := a.channel(ctx, current)
		if err == nil && ch != nil && ch.GuildID == guildID {
			return current, nil
		}
		a.log.Warn("configured channel unavailable, falling back",
			logx.String("guild", guildID), logx.String("channel", current), logx.Err(err))
	}
	var chans []*discordgo.Channel
	if g, err := a.s.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		chans = g.Channels
	} else {
		err := a.withRetry(ctx, func() error {
			var err error
			chans, err = a.s.GuildChannels(guildID, discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			return "", err
		}
	}
	if id := firstTextChannel(chans); id != "" {
		return id, nil
	}
	return "", kit.ErrNoDestination
}

func (a *Adapter) channel(ctx context.Context, id string) (*discordgo.Channel, error) {
	if ch, err := a.s.State.Channel(id); err == nil {
		return ch, nil
	}
	var ch *discordgo.Channel
	err := a.withRetry(ctx, func() error {
		var err error
		ch, err = a.s.Channel(id, discordgo.WithContext(ctx))
		return err
	})
	return ch, err
}

func (a *Adapter) withRetry(ctx context.Context, call func() error) error {
	err := call()
	var rle *discordgo.RateLimitError
	if !errors.As(err, &rle) || a.lim == nil {
		return err
	}
	if rle.RateLimit != nil && rle.TooManyRequests != nil {
		a.lim.Block(rle.TooManyRequests.RetryAfter)
	}
	a.log.Warn("discord rate limited, retrying once", logx.Err(err))
	if werr := a.lim.Acquire(ctx); werr != nil {
		return werr
	}
	return call()
}

func firstTextChannel(chans []*discordgo.Channel) string {
	text := make([]*discordgo.Channel, 0, len(chans))
	for _, c := range chans {
		if c != nil && c.Type == discordgo.ChannelTypeGuildText {
			text = append(text, c)
		}
	}
	if len(text) == 0 {
		return ""
	}
	sort.SliceStable(text, func(i, j int) bool { return text[i].Position < text[j].Position })
	return text[0].ID
}

func toMessageEmbed(e kit.Embed) *discordgo.MessageEmbed {
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return me
}
