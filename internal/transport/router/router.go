// Package router dispatches prefixed chat commands to handlers.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	kit "tailwatch/internal/transport"
	logx "tailwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

// Command is one registered chat command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// MissingHelp is sent after the "missing argument" reply.
	MissingHelp string
	Timeout     time.Duration
	Handle      Handler
}

// Request is one invocation of a command.
type Request struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	IsAdmin    bool

	Command string
	Args    []string
	// Rest is the raw text after the command word.
	Rest string

	ReqID   string
	Logger  logx.Logger
	Replier kit.Replier
}

func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Replier == nil {
		return errors.New("no replier")
	}
	return r.Replier.SendText(ctx, r.ChannelID, text)
}

func (r *Request) ReplyEmbed(ctx context.Context, e kit.Embed) error {
	if r.Replier == nil {
		return errors.New("no replier")
	}
	return r.Replier.SendEmbed(ctx, r.ChannelID, e)
}

// RestAfter returns the raw text after the first n words of Rest.
func (r *Request) RestAfter(n int) string {
	s := strings.TrimSpace(r.Rest)
	for i := 0; i < n && s != ""; i++ {
		j := strings.IndexFunc(s, isSpace)
		if j < 0 {
			return ""
		}
		s = strings.TrimSpace(s[j:])
	}
	return s
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

// MissingArgError makes the router answer with a usage hint.
type MissingArgError struct {
	Name string
}

func (e *MissingArgError) Error() string { return "missing required argument: " + e.Name }

// Missing is shorthand for returning a *MissingArgError.
func Missing(name string) error { return &MissingArgError{Name: name} }

type Config struct {
	Prefix      string
	Concurrency int64
	Timeout     time.Duration
}

type Router struct {
	cfg Config
	log logx.Logger
	sem *semaphore.Weighted

	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]string
}

func New(cfg Config, log logx.Logger) *Router {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "!"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:   cfg,
		log:   log,
		sem:   semaphore.NewWeighted(cfg.Concurrency),
		cmds:  map[string]*Command{},
		alias: map[string]string{},
	}
}

func (rt *Router) Prefix() string { return rt.cfg.Prefix }

// Register adds or replaces commands by name.
func (rt *Router) Register(cmds ...Command) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		rt.cmds[name] = &c
		for _, a := range c.Aliases {
			rt.alias[strings.ToLower(a)] = name
		}
	}
}

// Commands lists registered commands sorted by name.
func (rt *Router) Commands() []Command {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Command, 0, len(rt.cmds))
	for _, c := range rt.cmds {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (rt *Router) lookup(word string) (Command, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	word = strings.ToLower(word)
	if c, ok := rt.cmds[word]; ok {
		return *c, true
	}
	if name, ok := rt.alias[word]; ok {
		if c, ok := rt.cmds[name]; ok {
			return *c, true
		}
	}
	return Command{}, false
}

// Message is an incoming chat message as seen by the adapter.
type Message struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	IsAdmin    bool
	Text       string
}

// Dispatch parses msg and runs the matching command. Messages without the
// prefix are ignored. It blocks until the handler returns.
func (rt *Router) Dispatch(ctx context.Context, msg Message, replier kit.Replier) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, rt.cfg.Prefix) {
		return
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, rt.cfg.Prefix))
	if body == "" {
		return
	}
	word, rest := body, ""
	if i := strings.IndexFunc(body, isSpace); i >= 0 {
		word, rest = body[:i], strings.TrimSpace(body[i:])
	}

	reply := func(s string) {
		if err := replier.SendText(ctx, msg.ChannelID, s); err != nil {
			rt.log.Warn("reply failed", logx.String("channel", msg.ChannelID), logx.Err(err))
		}
	}

	cmd, ok := rt.lookup(word)
	if !ok {
		reply(fmt.Sprintf("❌ Error: Command \"%s\" is not found", word))
		return
	}
	if cmd.Access == AccessAdmin && !msg.IsAdmin {
		reply("❌ Error: You are missing Administrator permission(s) to run this command.")
		return
	}
	if msg.GuildID == "" {
		reply("❌ Commands only work inside a server.")
		return
	}

	if !rt.sem.TryAcquire(1) {
		reply("⏳ Busy, try again in a moment.")
		return
	}
	defer rt.sem.Release(1)

	rid := uuid.NewString()[:8]
	req := &Request{
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		IsAdmin:    msg.IsAdmin,
		Command:    cmd.Name,
		Args:       strings.Fields(rest),
		Rest:       rest,
		ReqID:      rid,
		Replier:    replier,
		Logger: rt.log.With(
			logx.String("rid", rid),
			logx.String("guild", msg.GuildID),
			logx.String("channel", msg.ChannelID),
			logx.String("author", msg.AuthorID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = rt.cfg.Timeout
	}
	final := wrap(cmd.Handle,
		withRecover(rt.log),
		withCommandLog(rt.log),
		withDeadline(timeout),
	)

	err := final(ctx, req)
	if err == nil {
		return
	}
	var missing *MissingArgError
	if errors.As(err, &missing) {
		reply("❌ Missing required argument: " + missing.Name)
		if cmd.MissingHelp != "" {
			reply(cmd.MissingHelp)
		}
		return
	}
	reply("❌ Error executing command: " + err.Error())
}
