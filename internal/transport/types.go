// Package transport holds the chat-side abstractions shared by the monitor,
// the command router and the Discord adapter.
package transport

import (
	"context"
	"errors"
)

// ErrNoDestination means a tenant has no channel notifications can go to.
var ErrNoDestination = errors.New("no notification destination")

// Messenger is what the notification scheduler needs from the chat platform.
type Messenger interface {
	// Send posts text to dest (a channel ID).
	Send(ctx context.Context, dest, text string) error
	// ResolveDestination checks current and, when it is empty or gone,
	// picks a fallback for the tenant. It returns ErrNoDestination when
	// the tenant has no usable channel.
	ResolveDestination(ctx context.Context, tenantID, current string) (string, error)
}

// Embed is a platform-neutral rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

const (
	ColorBlue  = 0x3498db
	ColorGreen = 0x2ecc71
	ColorRed   = 0xe74c3c
	ColorGold  = 0xf1c40f
)

// Replier sends command responses back to where a command came from.
type Replier interface {
	SendText(ctx context.Context, channelID, text string) error
	SendEmbed(ctx context.Context, channelID string, e Embed) error
}

// Presence is implemented by adapters that can set a status line.
type Presence interface {
	SetWatching(ctx context.Context, text string) error
}
