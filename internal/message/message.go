package message

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

// TextPlaceholder is replaced by the received text in the reply template.
const TextPlaceholder = "{text}"

const DefaultTemplate = "I received: " + TextPlaceholder

// UnsupportedMode selects the reply for messages without displayable text.
type UnsupportedMode string

const (
	// UnsupportedSkip sends no reply.
	UnsupportedSkip UnsupportedMode = "skip"

	// UnsupportedPlaceholder replies with an empty text in place of the message.
	UnsupportedPlaceholder UnsupportedMode = "placeholder"
)

var (
	ErrInvalidTemplate = errors.New("acknowledgment template must contain " + TextPlaceholder)
	ErrInvalidReaction = errors.New("reaction must be a single emoji")
	ErrInvalidMode     = errors.New("unsupported content mode must be skip or placeholder")
)

type Config struct {
	Template    string
	Unsupported UnsupportedMode

	// MaxLength caps the echoed text in grapheme clusters; 0 disables it.
	MaxLength int

	// Reaction is an optional emoji reaction sent alongside the reply.
	Reaction string

	// RatePerSecond limits outbound acknowledgments; 0 disables the limit.
	RatePerSecond float64
	Burst         int
}

func DefaultConfig() Config {
	return Config{
		Template:      DefaultTemplate,
		Unsupported:   UnsupportedSkip,
		RatePerSecond: 5,
		Burst:         5,
	}
}

func (c Config) Validate() error {
	if !strings.Contains(c.Template, TextPlaceholder) {
		return ErrInvalidTemplate
	}
	switch c.Unsupported {
	case UnsupportedSkip, UnsupportedPlaceholder:
	default:
		return ErrInvalidMode
	}
	if c.Reaction != "" {
		if err := ValidateReaction(c.Reaction); err != nil {
			return err
		}
	}
	if c.MaxLength < 0 {
		return errors.New("max length must not be negative")
	}
	return nil
}

// ValidateReaction accepts exactly one emoji grapheme cluster.
func ValidateReaction(emoji string) error {
	if !gomoji.ContainsEmoji(emoji) || uniseg.GraphemeClusterCount(emoji) != 1 {
		return ErrInvalidReaction
	}
	return nil
}

// Notifier receives bot lifecycle notifications, e.g. the webhook engine.
type Notifier interface {
	Notify(ctx context.Context, event string, data map[string]interface{})
}

const (
	NotifyReceived     = "message.received"
	NotifyAcknowledged = "message.acknowledged"
)

// Acknowledger replies to every inbound message with a canned acknowledgment.
type Acknowledger struct {
	cfg      Config
	limiter  *rate.Limiter
	notifier Notifier
}

func NewAcknowledger(cfg Config, notifier Notifier) (*Acknowledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Acknowledger{
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		notifier: notifier,
	}, nil
}

// Render builds the reply text for an extracted message text.
func (a *Acknowledger) Render(text string) string {
	return strings.ReplaceAll(a.cfg.Template, TextPlaceholder, truncate(text, a.cfg.MaxLength))
}

// Handle is a session.MessageHandler.
func (a *Acknowledger) Handle(ctx context.Context, s session.Session, evt *session.MessageEvent) error {
	extraction := Extract(evt.Content)
	entry := log.Session(evt.Sender, "message").WithField("variant", extraction.Variant)

	if !extraction.Supported && a.cfg.Unsupported == UnsupportedSkip {
		entry.Info("Message from " + log.MaskJID(evt.Sender) + " has no displayable text, not acknowledged")
		return nil
	}

	entry.Info(fmt.Sprintf("Message from %s: %s", log.MaskJID(evt.Sender), extraction.Text))
	a.notify(ctx, NotifyReceived, map[string]interface{}{
		"message_id":  evt.ID,
		"from":        evt.Sender,
		"participant": evt.Participant,
		"variant":     extraction.Variant,
		"timestamp":   evt.Timestamp.Unix(),
	})

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for acknowledgment slot: %w", err)
	}

	reply := a.Render(extraction.Text)
	if err := s.SendText(ctx, evt.Sender, reply); err != nil {
		return fmt.Errorf("send acknowledgment to %s: %w", log.MaskJID(evt.Sender), err)
	}

	if a.cfg.Reaction != "" && evt.ID != "" {
		if err := s.SendReaction(ctx, evt.Sender, evt.Participant, evt.ID, a.cfg.Reaction); err != nil {
			entry.WithError(err).Warn("Failed to send acknowledgment reaction")
		}
	}

	a.notify(ctx, NotifyAcknowledged, map[string]interface{}{
		"message_id": evt.ID,
		"to":         evt.Sender,
	})
	return nil
}

func (a *Acknowledger) notify(ctx context.Context, event string, data map[string]interface{}) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, event, data)
}

func truncate(text string, max int) string {
	if max <= 0 || uniseg.GraphemeClusterCount(text) <= max {
		return text
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(text)
	for i := 0; i < max && g.Next(); i++ {
		b.WriteString(g.Str())
	}
	return b.String() + "…"
}
