package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

const (
	// PairCodeTimeout is how long a phone linking code stays valid.
	PairCodeTimeout = 160 * time.Second

	pairSettleDelay = 3 * time.Second
)

var ErrWAVersionOutdatedForQR = errors.New("whatsapp client version is outdated for QR pairing")

// PairOptions selects the pairing method. Phone pairing is used when Phone
// is set, QR pairing otherwise.
type PairOptions struct {
	Phone string

	// OnQR receives every QR code refresh.
	OnQR func(code string, timeout time.Duration)

	// OnPairCode receives the linking code entered on the phone.
	OnPairCode func(code string)
}

// Pair links a new companion device and returns its credential bundle.
func Pair(ctx context.Context, container *sqlstore.Container, cfg ClientConfig, opts PairOptions) (*credentials.Bundle, error) {
	applyDeviceProps(cfg)

	client := whatsmeow.NewClient(container.NewDevice(), log.WA("Pair"))
	if len(cfg.ProxyURL) > 0 {
		if err := client.SetProxyAddress(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy address: %w", err)
		}
	}
	defer client.Disconnect()

	paired := make(chan error, 1)
	handlerID := client.AddEventHandler(func(raw interface{}) {
		switch e := raw.(type) {
		case *events.PairSuccess:
			log.Session(e.ID.String(), "pair").Info("Pairing succeeded on " + e.Platform)
			select {
			case paired <- nil:
			default:
			}
		case *events.PairError:
			select {
			case paired <- fmt.Errorf("pairing failed: %w", e.Error):
			default:
			}
		}
	})
	defer client.RemoveEventHandler(handlerID)

	var err error
	if opts.Phone != "" {
		err = pairPhone(ctx, client, opts)
	} else {
		err = pairQR(ctx, client, opts)
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-paired:
		if err != nil {
			return nil, err
		}
	}

	// The first connection after pairing uploads pre-keys and push name.
	select {
	case <-ctx.Done():
	case <-time.After(pairSettleDelay):
	}

	return BundleFromDevice(client.Store)
}

func pairPhone(ctx context.Context, client *whatsmeow.Client, opts PairOptions) error {
	if err := client.Connect(); err != nil {
		return err
	}

	code, err := client.PairPhone(ctx, DecomposeJID(opts.Phone), true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
	if err != nil {
		return err
	}
	if opts.OnPairCode != nil {
		opts.OnPairCode(code)
	}
	return nil
}

// pairQR returns once the QR flow reports success; PairSuccess may already
// have fired by then.
func pairQR(ctx context.Context, client *whatsmeow.Client, opts PairOptions) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return errors.New("whatsapp qr channel closed before delivering a code")
			}
			switch {
			case evt.Event == "code":
				if opts.OnQR != nil {
					opts.OnQR(evt.Code, evt.Timeout)
				}
			case evt.Event == whatsmeow.QRChannelSuccess.Event:
				return nil
			case evt.Event == whatsmeow.QRChannelTimeout.Event:
				return errors.New("whatsapp qr channel timed out")
			case evt.Event == whatsmeow.QRChannelErrUnexpectedEvent.Event:
				return errors.New("whatsapp qr channel entered an unexpected state")
			case evt.Event == whatsmeow.QRChannelClientOutdated.Event:
				return ErrWAVersionOutdatedForQR
			case evt.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				return errors.New("whatsapp qr scanned without multi-device enabled")
			case evt.Event == "error":
				if evt.Error != nil {
					return evt.Error
				}
				return errors.New("whatsapp qr channel reported an unspecified error")
			}
		}
	}
}
