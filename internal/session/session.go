// Package session defines the seam between the bot and the protocol library:
// typed session events, the connector and session contracts, and the router
// that dispatches one session's events from a single loop.
package session

import (
	"context"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
)

// Session is one connected protocol client bound to one credential bundle.
type Session interface {
	// Events delivers events in emission order. The channel is closed by Close.
	Events() <-chan Event

	SendText(ctx context.Context, recipient string, text string) error
	SendReaction(ctx context.Context, chat string, sender string, messageID string, emoji string) error

	// Close detaches the session from the library and returns once no
	// further events can be emitted.
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, bundle *credentials.Bundle, version Version) (Session, error)
}

// VersionSource negotiates the protocol version used for the next connect.
type VersionSource interface {
	Resolve(ctx context.Context) (Version, error)
}
