package session

import (
	"time"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
)

// EventKind enumerates the event classes a session emits.
type EventKind uint8

const (
	EventMessage EventKind = iota + 1
	EventConnection
	EventCredentials
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnection:
		return "connection"
	case EventCredentials:
		return "credentials"
	default:
		return "unknown"
	}
}

// Event is implemented by MessageEvent, ConnectionEvent and CredentialsEvent.
type Event interface {
	Kind() EventKind
}

// MessageEvent is an inbound message from another party.
type MessageEvent struct {
	ID string

	// Sender is the address replies go to: the peer of a direct chat or
	// the group the message was posted in.
	Sender string

	// Participant is the author inside a group chat, equal to Sender otherwise.
	Participant string

	PushName  string
	Timestamp time.Time
	Content   Content
}

func (*MessageEvent) Kind() EventKind { return EventMessage }

// ConnectionEvent is a connection state transition. Code and Err are only
// meaningful for StateClosed.
type ConnectionEvent struct {
	State State
	Code  int
	Err   error
}

func (*ConnectionEvent) Kind() EventKind { return EventConnection }

// Reason classifies a closed transition.
func (e *ConnectionEvent) Reason() DisconnectReason {
	return Classify(e.Code)
}

// CredentialsEvent carries an updated credential bundle.
type CredentialsEvent struct {
	Bundle *credentials.Bundle
}

func (*CredentialsEvent) Kind() EventKind { return EventCredentials }

// Content is the closed set of message payload variants.
type Content interface {
	isContent()
}

// PlainText is a conversation message without any formatting metadata.
type PlainText struct {
	Text string
}

// ExtendedText is a text message carrying quotes, mentions or link previews.
type ExtendedText struct {
	Text        string
	MatchedText string
	QuotedID    string
}

// Unsupported is any payload the bot does not read text from.
type Unsupported struct {
	Type string
}

func (PlainText) isContent()    {}
func (ExtendedText) isContent() {}
func (Unsupported) isContent()  {}
