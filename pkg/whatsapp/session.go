package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

const eventBufferSize = 256

var ErrClientNotConnected = errors.New("WhatsApp Client is not Connected")

// ClientConfig describes how the bot presents itself to WhatsApp.
type ClientConfig struct {
	// Name is shown as the linked device name on the phone.
	Name string

	// Platform is a companion platform such as Chrome, Safari or Firefox.
	Platform string

	ProxyURL string
}

// Connector opens whatsmeow sessions backed by one key store.
type Connector struct {
	container *sqlstore.Container
	cfg       ClientConfig
}

func NewConnector(container *sqlstore.Container, cfg ClientConfig) *Connector {
	return &Connector{container: container, cfg: cfg}
}

// Connect builds a fresh client for the bundle and starts connecting. The
// library's own reconnect loop is disabled.
func (c *Connector) Connect(ctx context.Context, bundle *credentials.Bundle, version session.Version) (session.Session, error) {
	device, err := deviceForBundle(ctx, c.container, bundle)
	if err != nil {
		return nil, err
	}

	if !version.IsZero() {
		store.SetWAVersion(store.WAVersionContainer{version.Major, version.Minor, version.Patch})
	}
	applyDeviceProps(c.cfg)

	client := whatsmeow.NewClient(device, log.WA("Client"))
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true

	if len(c.cfg.ProxyURL) > 0 {
		if err := client.SetProxyAddress(c.cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy address: %w", err)
		}
	}

	s := newSession(client)
	s.emit(&session.ConnectionEvent{State: session.StateConnecting})

	if err := client.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

func applyDeviceProps(cfg ClientConfig) {
	if cfg.Name != "" {
		store.DeviceProps.Os = proto.String(cfg.Name)
	}
	store.DeviceProps.PlatformType = parsePlatform(cfg.Platform).Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)
}

func parsePlatform(name string) waCompanionReg.DeviceProps_PlatformType {
	if v, ok := waCompanionReg.DeviceProps_PlatformType_value[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return waCompanionReg.DeviceProps_PlatformType(v)
	}
	return waCompanionReg.DeviceProps_CHROME
}

// Session adapts one whatsmeow client to session.Session.
type Session struct {
	client    *whatsmeow.Client
	handlerID uint32

	events    chan session.Event
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newSession(client *whatsmeow.Client) *Session {
	s := &Session{
		client: client,
		events: make(chan session.Event, eventBufferSize),
		done:   make(chan struct{}),
	}
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s
}

func (s *Session) Events() <-chan session.Event {
	return s.events
}

func (s *Session) handleEvent(raw interface{}) {
	for _, evt := range translateEvent(raw, s.client.Store) {
		s.emit(evt)
	}
}

// emit drops events once Close has started.
func (s *Session) emit(evt session.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

func (s *Session) SendText(ctx context.Context, recipient string, text string) error {
	to, err := s.target(recipient)
	if err != nil {
		return err
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: s.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := s.client.SendMessage(ctx, to, msgContent, msgExtra); err != nil {
		return err
	}
	return nil
}

func (s *Session) SendReaction(ctx context.Context, chat string, sender string, messageID string, emoji string) error {
	chatJID, err := s.target(chat)
	if err != nil {
		return err
	}
	senderJID, err := types.ParseJID(sender)
	if err != nil {
		return fmt.Errorf("parse sender jid: %w", err)
	}

	msgReact := s.client.BuildReaction(chatJID, senderJID, messageID, emoji)
	if _, err := s.client.SendMessage(ctx, chatJID, msgReact); err != nil {
		return err
	}
	return nil
}

func (s *Session) target(address string) (types.JID, error) {
	if !s.client.IsConnected() {
		return types.EmptyJID, ErrClientNotConnected
	}
	jid := ComposeJID(address)
	if jid.User == "" {
		return types.EmptyJID, fmt.Errorf("invalid recipient %q", address)
	}
	return jid, nil
}

// Close detaches the event handler, disconnects and closes the event
// channel. Blocked emitters are released before the handler is removed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}
