package internal

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/admin"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/bot"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/config"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/message"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-echo-bot/pkg/whatsapp"
)

// App holds the wired components of a running bot.
type App struct {
	Config       config.Config
	Bundle       *credentials.Bundle
	Bot          *bot.Bot
	Versions     *pkgWhatsApp.VersionSource
	Webhooks     *webhook.Engine
	WebhookStats *webhook.Stats

	container *sqlstore.Container
}

// Startup loads the credentials and wires every component. Any failure is
// wrapped in bot.ErrStartup.
func Startup(ctx context.Context, cfg config.Config) (*App, error) {
	log.Print(nil).Info("Running Startup Tasks")

	auth.Configure(cfg.Auth.AdminSecret, cfg.JWTSecretKey(), cfg.Auth.JWTTTL)

	credStore := credentials.NewFileStore(cfg.Credentials.Path)
	bundle, err := credStore.Load()
	if err != nil {
		if errors.Is(err, credentials.ErrAuthNotFound) {
			return nil, fmt.Errorf("%w: %w (pair the device with cmd/pair first)", bot.ErrStartup, err)
		}
		return nil, fmt.Errorf("%w: %w", bot.ErrStartup, err)
	}
	log.Session(bundle.JID, "startup").Info("Loaded credentials from " + credStore.Path())

	container, err := pkgWhatsApp.OpenDatastore(ctx, cfg.Datastore.Type, cfg.Datastore.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bot.ErrStartup, err)
	}

	app := &App{
		Config:       cfg,
		Bundle:       bundle,
		Versions:     pkgWhatsApp.NewVersionSource(cfg.Client.VersionRefreshMinInterval, cfg.Client.VersionRefreshOnConnect),
		Webhooks:     webhook.NewEngine(cfg.Webhooks()),
		WebhookStats: webhook.NewStats(),
		container:    container,
	}
	app.Webhooks.OnDelivery(app.WebhookStats.Record)

	ack, err := message.NewAcknowledger(cfg.Acknowledgment(), app.Webhooks)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("%w: %w", bot.ErrStartup, err)
	}

	connector := pkgWhatsApp.NewConnector(container, pkgWhatsApp.ClientConfig{
		Name:     cfg.Client.Name,
		Platform: cfg.Client.Platform,
		ProxyURL: cfg.Client.ProxyURL,
	})

	app.Bot, err = bot.New(bot.Options{
		Connector:    connector,
		Versions:     app.Versions,
		Store:        credStore,
		Policy:       reconnect.New(cfg.Policy()),
		Acknowledger: ack,
		Notifier:     app.Webhooks,
		ExitOnHalt:   cfg.Client.ExitOnLogout,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("%w: %w", bot.ErrStartup, err)
	}

	if app.Webhooks.Enabled() {
		log.Print(nil).WithField("targets", len(cfg.Webhook.URLs)).Info("Webhook delivery enabled")
	}
	return app, nil
}

// Run blocks until ctx ends or the bot halts.
func (a *App) Run(ctx context.Context) error {
	return a.Bot.Run(ctx, a.Bundle)
}

// AdminHandler exposes the running components to the operator API.
func (a *App) AdminHandler() *admin.Handler {
	return admin.NewHandler(a.Bot, a.Versions, a.WebhookStats)
}

// Close drains pending webhooks and releases the datastore.
func (a *App) Close() {
	if a.Webhooks != nil {
		a.Webhooks.Shutdown()
	}
	if a.container != nil {
		if err := a.container.Close(); err != nil {
			log.Print(nil).WithError(err).Warn("Failed to close WhatsApp datastore")
		}
	}
}
