package message

import (
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
)

// Extraction is the displayable text of a message, if any.
type Extraction struct {
	Text      string
	Supported bool

	// Variant names the content variant the text came from.
	Variant string
}

// Extract matches the closed set of content variants.
func Extract(content session.Content) Extraction {
	switch c := content.(type) {
	case session.PlainText:
		return Extraction{Text: c.Text, Supported: true, Variant: "plain-text"}
	case session.ExtendedText:
		return Extraction{Text: c.Text, Supported: true, Variant: "extended-text"}
	case session.Unsupported:
		variant := c.Type
		if variant == "" {
			variant = "unsupported"
		}
		return Extraction{Variant: variant}
	default:
		return Extraction{Variant: "unsupported"}
	}
}
