package whatsapp

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow/proto/waAdv"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/util/keys"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
)

var (
	ErrDeviceNotPaired = errors.New("WhatsApp device is not paired")
	errNoDevice        = fmt.Errorf("%w: datastore has no paired device", ErrDeviceNotPaired)
)

// BundleFromDevice exports the credential material of a paired device.
func BundleFromDevice(device *store.Device) (*credentials.Bundle, error) {
	if device == nil || device.ID == nil {
		return nil, ErrDeviceNotPaired
	}
	if device.NoiseKey == nil || device.IdentityKey == nil || device.SignedPreKey == nil {
		return nil, fmt.Errorf("%w: key material is incomplete", ErrDeviceNotPaired)
	}

	bundle := &credentials.Bundle{
		Version:        credentials.BundleVersion,
		JID:            device.ID.String(),
		PushName:       device.PushName,
		Platform:       device.Platform,
		BusinessName:   device.BusinessName,
		RegistrationID: device.RegistrationID,
		NoiseKey:       append([]byte(nil), device.NoiseKey.Priv[:]...),
		IdentityKey:    append([]byte(nil), device.IdentityKey.Priv[:]...),
		SignedPreKey: credentials.SignedPreKey{
			KeyID:      device.SignedPreKey.KeyID,
			PrivateKey: append([]byte(nil), device.SignedPreKey.Priv[:]...),
		},
		AdvSecretKey: append([]byte(nil), device.AdvSecretKey...),
	}
	if !device.LID.IsEmpty() {
		bundle.LID = device.LID.String()
	}
	if device.SignedPreKey.Signature != nil {
		bundle.SignedPreKey.Signature = append([]byte(nil), device.SignedPreKey.Signature[:]...)
	}
	if device.Account != nil {
		account, err := proto.Marshal(device.Account)
		if err != nil {
			return nil, fmt.Errorf("marshal device identity: %w", err)
		}
		bundle.Account = account
	}

	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return bundle, nil
}

// ApplyBundle copies the bundle's credential material onto a device.
func ApplyBundle(device *store.Device, bundle *credentials.Bundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}

	jid, err := types.ParseJID(bundle.JID)
	if err != nil {
		return fmt.Errorf("parse bundle jid: %w", err)
	}
	device.ID = &jid

	if bundle.LID != "" {
		lid, err := types.ParseJID(bundle.LID)
		if err != nil {
			return fmt.Errorf("parse bundle lid: %w", err)
		}
		device.LID = lid
	}

	device.PushName = bundle.PushName
	device.Platform = bundle.Platform
	device.BusinessName = bundle.BusinessName
	device.RegistrationID = bundle.RegistrationID
	device.NoiseKey = keys.NewKeyPairFromPrivateKey([32]byte(bundle.NoiseKey))
	device.IdentityKey = keys.NewKeyPairFromPrivateKey([32]byte(bundle.IdentityKey))

	signature := [64]byte(bundle.SignedPreKey.Signature)
	device.SignedPreKey = &keys.PreKey{
		KeyPair:   *keys.NewKeyPairFromPrivateKey([32]byte(bundle.SignedPreKey.PrivateKey)),
		KeyID:     bundle.SignedPreKey.KeyID,
		Signature: &signature,
	}
	device.AdvSecretKey = append([]byte(nil), bundle.AdvSecretKey...)

	if len(bundle.Account) > 0 {
		account := &waAdv.ADVSignedDeviceIdentity{}
		if err := proto.Unmarshal(bundle.Account, account); err != nil {
			return fmt.Errorf("unmarshal device identity: %w", err)
		}
		device.Account = account
	}

	return nil
}

// ExportBundle exports the first paired device held by the datastore.
func ExportBundle(ctx context.Context, container *sqlstore.Container) (*credentials.Bundle, error) {
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device from datastore: %w", err)
	}
	if device == nil || device.ID == nil {
		return nil, errNoDevice
	}
	return BundleFromDevice(device)
}
