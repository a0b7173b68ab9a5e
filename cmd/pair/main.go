// Command pair links the bot to a WhatsApp account and writes the credential
// bundle the bot loads at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/config"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/validation"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-echo-bot/pkg/whatsapp"
)

const pairTimeout = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	phone := flag.String("phone", "", "pair with a linking code for this phone number instead of a QR code")
	pngPath := flag.String("png", "", "also write every QR code to this PNG file")
	force := flag.Bool("force", false, "overwrite existing credentials")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Print(nil).Error(err.Error())
		return 1
	}
	log.SetLevel(cfg.Log.Level)

	if *phone != "" {
		if err := validation.ValidatePhone(*phone); err != nil {
			log.Print(nil).Error(err.Error())
			return 1
		}
		*phone = validation.NormalizePhone(*phone)
	}

	credStore := credentials.NewFileStore(cfg.Credentials.Path)
	if _, err := credStore.Load(); err == nil && !*force {
		log.Print(nil).Error("Credentials already exist at " + credStore.Path() + "; pass -force to replace them")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := pkgWhatsApp.OpenDatastore(ctx, cfg.Datastore.Type, cfg.Datastore.URI)
	if err != nil {
		log.Print(nil).Error(err.Error())
		return 1
	}
	defer container.Close()

	bundle, err := pkgWhatsApp.ExportBundle(ctx, container)
	switch {
	case err == nil && !*force:
		log.Session(bundle.JID, "pair").Info("Datastore already holds a paired device, exporting it")
	case err == nil || errors.Is(err, pkgWhatsApp.ErrDeviceNotPaired):
		bundle, err = pair(ctx, container, cfg, *phone, *pngPath)
		if err != nil {
			log.Print(nil).Error("Pairing failed: " + err.Error())
			return 1
		}
	default:
		log.Print(nil).Error(err.Error())
		return 1
	}

	if _, err := credStore.Save(bundle); err != nil {
		log.Print(nil).Error("Failed to save credentials: " + err.Error())
		return 1
	}
	log.Session(bundle.JID, "pair").Info("Credentials written to " + credStore.Path())
	return 0
}

func pair(ctx context.Context, container *sqlstore.Container, cfg config.Config, phone string, pngPath string) (*credentials.Bundle, error) {
	versions := pkgWhatsApp.NewVersionSource(0, true)
	if version, err := versions.Resolve(ctx); err != nil {
		log.Print(nil).WithError(err).Warn("Falling back to the built-in WhatsApp Web version")
	} else {
		log.Print(nil).Info(fmt.Sprintf("Using WA v%s - latest: %t", version, version.Latest))
	}

	ctx, cancel := context.WithTimeout(ctx, pairTimeout)
	defer cancel()

	return pkgWhatsApp.Pair(ctx, container, pkgWhatsApp.ClientConfig{
		Name:     cfg.Client.Name,
		Platform: cfg.Client.Platform,
		ProxyURL: cfg.Client.ProxyURL,
	}, pkgWhatsApp.PairOptions{
		Phone: phone,
		OnQR: func(code string, timeout time.Duration) {
			printQR(code, timeout, pngPath)
		},
		OnPairCode: func(code string) {
			fmt.Printf("\nEnter this code in WhatsApp > Linked devices > Link with phone number: %s\n", code)
			fmt.Printf("The code expires in %s.\n\n", pkgWhatsApp.PairCodeTimeout)
		},
	})
}

func printQR(code string, timeout time.Duration, pngPath string) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to render QR code")
		return
	}
	fmt.Println(qr.ToSmallString(false))
	fmt.Printf("Scan with WhatsApp > Linked devices within %s\n", timeout)

	if pngPath != "" {
		if err := qrcode.WriteFile(code, qrcode.Medium, 256, pngPath); err != nil {
			log.Print(nil).WithError(err).Warn("Failed to write QR code PNG")
		}
	}
}
