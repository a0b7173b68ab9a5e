package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// BundleVersion is the current version of the credential file format.
const BundleVersion = 1

const (
	privateKeySize = 32
	signatureSize  = 64
	advSecretSize  = 32
)

var errInvalidBundle = errors.New("invalid credential bundle")

// Bundle is the authentication material needed to resume a paired session
// without scanning a QR code again. Ancillary key material (sessions,
// pre-keys, sender keys) lives in the protocol library's own key store.
type Bundle struct {
	// Version is the credential file format version.
	Version int `json:"version"`

	// JID is the paired device address, e.g. 6281234567890:12@s.whatsapp.net.
	JID string `json:"jid"`

	LID          string `json:"lid,omitempty"`
	PushName     string `json:"push_name,omitempty"`
	Platform     string `json:"platform,omitempty"`
	BusinessName string `json:"business_name,omitempty"`

	RegistrationID uint32       `json:"registration_id"`
	NoiseKey       []byte       `json:"noise_key"`
	IdentityKey    []byte       `json:"identity_key"`
	SignedPreKey   SignedPreKey `json:"signed_pre_key"`
	AdvSecretKey   []byte       `json:"adv_secret_key"`

	// Account is the serialized signed device identity issued at pairing.
	Account []byte `json:"account,omitempty"`
}

// SignedPreKey is the signed pre-key published with the device identity.
type SignedPreKey struct {
	KeyID      uint32 `json:"key_id"`
	PrivateKey []byte `json:"private_key"`
	Signature  []byte `json:"signature"`
}

// Validate reports whether the bundle holds usable credentials.
func (b *Bundle) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: empty", errInvalidBundle)
	}
	if strings.TrimSpace(b.JID) == "" || !strings.Contains(b.JID, "@") {
		return fmt.Errorf("%w: missing device jid", errInvalidBundle)
	}
	if len(b.NoiseKey) != privateKeySize {
		return fmt.Errorf("%w: noise key must be %d bytes", errInvalidBundle, privateKeySize)
	}
	if len(b.IdentityKey) != privateKeySize {
		return fmt.Errorf("%w: identity key must be %d bytes", errInvalidBundle, privateKeySize)
	}
	if len(b.SignedPreKey.PrivateKey) != privateKeySize {
		return fmt.Errorf("%w: signed pre-key must be %d bytes", errInvalidBundle, privateKeySize)
	}
	if len(b.SignedPreKey.Signature) != signatureSize {
		return fmt.Errorf("%w: signed pre-key signature must be %d bytes", errInvalidBundle, signatureSize)
	}
	if len(b.AdvSecretKey) != advSecretSize {
		return fmt.Errorf("%w: adv secret key must be %d bytes", errInvalidBundle, advSecretSize)
	}
	return nil
}

// Clone returns a deep copy so callers can hand bundles across goroutines.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	c := *b
	c.NoiseKey = cloneBytes(b.NoiseKey)
	c.IdentityKey = cloneBytes(b.IdentityKey)
	c.SignedPreKey.PrivateKey = cloneBytes(b.SignedPreKey.PrivateKey)
	c.SignedPreKey.Signature = cloneBytes(b.SignedPreKey.Signature)
	c.AdvSecretKey = cloneBytes(b.AdvSecretKey)
	c.Account = cloneBytes(b.Account)
	return &c
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
