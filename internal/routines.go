package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/bot"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-echo-bot/pkg/whatsapp"
)

const healthCheckSpec = "0 */5 * * * *"

type statusSource interface {
	Status() bot.Status
}

type versionRefresher interface {
	Refresh(ctx context.Context, force bool) (pkgWhatsApp.WAVersionRefreshStatus, bool, error)
}

// Routines registers the periodic jobs and starts the scheduler.
func Routines(c *cron.Cron, app *App) {
	log.Print(nil).Info("Running Routine Tasks")

	if app.Config.Client.HealthCheckCron {
		if _, err := c.AddFunc(healthCheckSpec, healthCheck(app.Bot)); err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on session events")
	}

	if app.Config.Client.VersionRefreshCron {
		spec := app.Config.Client.VersionRefreshCronSpec
		if _, err := c.AddFunc(spec, versionRefresh(app.Versions)); err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).Info("WA Web version refresh cron enabled")
		}
	}

	c.Start()
}

func healthCheck(src statusSource) func() {
	return func() {
		status := src.Status()
		entry := log.Print(nil).
			WithField("state", status.State).
			WithField("attempts", status.Attempts).
			WithField("sessions", status.Sessions)

		switch {
		case status.Halted:
			entry.WithField("reason", status.LastReason).Error("Bot halted; pair the device again")
		case status.State != session.StateOpen.String():
			entry.WithField("reason", status.LastReason).Warn("Bot unhealthy")
		default:
			entry.Debug("Bot healthy")
		}
	}
}

func versionRefresh(src versionRefresher) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		status, refreshed, err := src.Refresh(ctx, false)
		if err != nil {
			log.Print(nil).WithField("version", status.CurrentVersion).Error("WA Web version refresh failed: " + err.Error())
			return
		}
		log.Print(nil).WithField("version", status.CurrentVersion).WithField("refreshed", refreshed).Info("WA Web version refresh completed")
	}
}
