// Package bot supervises the session lifecycle: it connects with the loaded
// credentials, routes session events until the connection closes, and asks
// the reconnect policy whether to open a new session or halt.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/message"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

var (
	ErrLoggedOut = errors.New("whatsapp session logged out")
	ErrExhausted = errors.New("reconnect attempts exhausted")
	ErrStartup   = errors.New("unexpected startup error")
)

const (
	NotifyConnectionOpen   = "connection.open"
	NotifyConnectionClosed = "connection.closed"
	NotifySessionHalted    = "session.halted"
	NotifyCredentials      = "credentials.updated"
)

// CredentialStore persists credential updates. Save reports whether the
// stored bytes changed.
type CredentialStore interface {
	Save(bundle *credentials.Bundle) (bool, error)
}

type Options struct {
	Connector    session.Connector
	Versions     session.VersionSource
	Store        CredentialStore
	Policy       *reconnect.Policy
	Acknowledger *message.Acknowledger
	Notifier     message.Notifier

	// ExitOnHalt makes Run return once the policy halts instead of idling
	// until the context ends.
	ExitOnHalt bool
}

type Bot struct {
	opts Options

	mu     sync.RWMutex
	bundle *credentials.Bundle
	status Status
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State       string     `json:"state"`
	JID         string     `json:"jid,omitempty"`
	Version     string     `json:"version,omitempty"`
	Halted      bool       `json:"halted"`
	Attempts    int        `json:"attempts"`
	LastReason  string     `json:"last_reason,omitempty"`
	LastCode    int        `json:"last_code,omitempty"`
	Sessions    int        `json:"sessions"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastSavedAt *time.Time `json:"last_credentials_saved_at,omitempty"`
}

func New(opts Options) (*Bot, error) {
	switch {
	case opts.Connector == nil:
		return nil, errors.New("bot requires a session connector")
	case opts.Store == nil:
		return nil, errors.New("bot requires a credential store")
	case opts.Policy == nil:
		return nil, errors.New("bot requires a reconnect policy")
	case opts.Acknowledger == nil:
		return nil, errors.New("bot requires an acknowledger")
	}
	return &Bot{
		opts:   opts,
		status: Status{State: session.StateClosed.String()},
	}, nil
}

// Run connects with bundle and keeps the bot online until ctx ends or the
// reconnect policy halts. A failure to open the very first session is
// returned wrapped in ErrStartup.
func (b *Bot) Run(ctx context.Context, bundle *credentials.Bundle) error {
	b.mu.Lock()
	b.bundle = bundle.Clone()
	b.status.JID = log.MaskJID(bundle.JID)
	b.mu.Unlock()

	for attempt := 1; ; attempt++ {
		version := b.resolveVersion(ctx)

		s, err := b.opts.Connector.Connect(ctx, b.currentBundle(), version)
		if ctx.Err() != nil {
			if s != nil {
				_ = s.Close()
			}
			return nil
		}

		reason := session.ReasonTransientNetwork
		if err != nil {
			if attempt == 1 {
				return fmt.Errorf("%w: %w", ErrStartup, err)
			}
			log.Print(nil).WithError(err).Warn("Failed to open WhatsApp session")
			b.recordClose(session.CodeConnectionLost, reason)
		} else {
			b.sessionOpened()
			reason, err = b.serve(ctx, s)
			_ = s.Close()
			if err != nil {
				return nil
			}
		}

		outcome := b.opts.Policy.Decide(reason)
		b.mu.Lock()
		b.status.Attempts = outcome.Attempt
		b.status.Halted = outcome.Decision == reconnect.Halt
		b.mu.Unlock()

		if outcome.Decision == reconnect.Halt {
			return b.halt(ctx, reason, outcome)
		}

		log.Print(nil).
			WithField("reason", reason.String()).
			WithField("attempt", outcome.Attempt).
			WithField("delay", outcome.Delay.String()).
			Warn("Connection closed, reconnecting...")

		if !sleepContext(ctx, outcome.Delay) {
			return nil
		}
	}
}

// serve routes one session's events until it closes.
func (b *Bot) serve(ctx context.Context, s session.Session) (session.DisconnectReason, error) {
	router := session.NewRouter(s)
	router.OnMessage(b.opts.Acknowledger.Handle)
	router.OnConnection(b.onConnection)
	router.OnCredentials(b.onCredentials)
	return router.Run(ctx)
}

func (b *Bot) onConnection(ctx context.Context, _ session.Session, evt *session.ConnectionEvent) error {
	b.setState(evt.State)

	switch evt.State {
	case session.StateConnecting:
		log.Print(nil).Info("Connecting to WhatsApp")
	case session.StateOpen:
		b.opts.Policy.Reset()
		now := time.Now()
		b.mu.Lock()
		b.status.ConnectedAt = &now
		b.status.Attempts = 0
		b.mu.Unlock()

		log.Print(nil).Info("Connected successfully")
		b.notify(ctx, NotifyConnectionOpen, map[string]interface{}{"jid": b.Status().JID})
	case session.StateClosed:
		reason := evt.Reason()
		b.recordClose(evt.Code, reason)

		entry := log.Print(nil).WithField("code", evt.Code).WithField("reason", reason.String())
		if evt.Err != nil {
			entry = entry.WithError(evt.Err)
		}
		entry.Warn("Connection closed")
		b.notify(ctx, NotifyConnectionClosed, map[string]interface{}{
			"code":   evt.Code,
			"reason": reason.String(),
		})
	}
	return nil
}

func (b *Bot) onCredentials(ctx context.Context, _ session.Session, evt *session.CredentialsEvent) error {
	if evt.Bundle == nil {
		return nil
	}
	changed, err := b.opts.Store.Save(evt.Bundle)
	if err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}

	b.mu.Lock()
	b.bundle = evt.Bundle.Clone()
	b.status.JID = log.MaskJID(evt.Bundle.JID)
	if changed {
		now := time.Now()
		b.status.LastSavedAt = &now
	}
	b.mu.Unlock()

	if !changed {
		log.Print(nil).Debug("Credentials unchanged, nothing to save")
		return nil
	}
	log.Session(evt.Bundle.JID, "credentials").Info("Credentials saved")
	b.notify(ctx, NotifyCredentials, map[string]interface{}{"jid": log.MaskJID(evt.Bundle.JID)})
	return nil
}

func (b *Bot) halt(ctx context.Context, reason session.DisconnectReason, outcome reconnect.Outcome) error {
	haltErr := ErrLoggedOut
	if outcome.Exhausted {
		haltErr = ErrExhausted
		log.Print(nil).WithField("attempts", outcome.Attempt).Error("Reconnect attempts exhausted, giving up.")
	} else {
		log.Print(nil).Error("Logged out permanently.")
	}

	b.notify(ctx, NotifySessionHalted, map[string]interface{}{
		"reason":    reason.String(),
		"exhausted": outcome.Exhausted,
	})

	if b.opts.ExitOnHalt {
		return haltErr
	}

	log.Print(nil).Info("Bot is idle; pair the device again and restart to resume")
	<-ctx.Done()
	return nil
}

func (b *Bot) resolveVersion(ctx context.Context) session.Version {
	if b.opts.Versions == nil {
		return session.Version{}
	}
	version, err := b.opts.Versions.Resolve(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Warn("Falling back to the built-in WhatsApp Web version")
	}
	if !version.IsZero() {
		log.Print(nil).Info(fmt.Sprintf("Using WA v%s - latest: %t", version, version.Latest))
	}

	b.mu.Lock()
	b.status.Version = version.String()
	b.mu.Unlock()
	return version
}

// Status returns a copy of the current supervisor state.
func (b *Bot) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status := b.status
	if status.ConnectedAt != nil {
		t := *status.ConnectedAt
		status.ConnectedAt = &t
	}
	if status.LastSavedAt != nil {
		t := *status.LastSavedAt
		status.LastSavedAt = &t
	}
	return status
}

func (b *Bot) currentBundle() *credentials.Bundle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bundle.Clone()
}

func (b *Bot) sessionOpened() {
	b.mu.Lock()
	b.status.Sessions++
	b.mu.Unlock()
}

func (b *Bot) setState(state session.State) {
	b.mu.Lock()
	b.status.State = state.String()
	b.mu.Unlock()
}

func (b *Bot) recordClose(code int, reason session.DisconnectReason) {
	b.mu.Lock()
	b.status.State = session.StateClosed.String()
	b.status.LastCode = code
	b.status.LastReason = reason.String()
	b.mu.Unlock()
}

func (b *Bot) notify(ctx context.Context, event string, data map[string]interface{}) {
	if b.opts.Notifier == nil {
		return
	}
	b.opts.Notifier.Notify(ctx, event, data)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
