package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/bot"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-echo-bot/pkg/whatsapp"
)

type StatusProvider interface {
	Status() bot.Status
}

type VersionRefresher interface {
	Status() pkgWhatsApp.WAVersionRefreshStatus
	Refresh(ctx context.Context, force bool) (pkgWhatsApp.WAVersionRefreshStatus, bool, error)
}

type WebhookStats interface {
	Snapshot() webhook.StatsSnapshot
}

// Handler serves the operator endpoints. Nil dependencies answer 503.
type Handler struct {
	Bot      StatusProvider
	Versions VersionRefresher
	Webhooks WebhookStats

	startedAt time.Time
}

func NewHandler(b StatusProvider, versions VersionRefresher, webhooks WebhookStats) *Handler {
	return &Handler{
		Bot:       b,
		Versions:  versions,
		Webhooks:  webhooks,
		startedAt: time.Now(),
	}
}

type ResponseSessionStatus struct {
	bot.Status
	Healthy bool   `json:"healthy"`
	Uptime  string `json:"uptime"`
}

type ResponseVersionRefresh struct {
	pkgWhatsApp.WAVersionRefreshStatus
	Refreshed bool `json:"refreshed"`
}

// @Summary     Get Session Status
// @Description Connection state, reconnect attempts and last close reason of the bot
// @Tags        Session
// @Produce     json
// @Param       Authorization header string false "Bearer operator token"
// @Param       X-Admin-Secret header string false "Admin secret key"
// @Success     200 {object} ResponseSessionStatus
// @Failure     401 {object} router.Response
// @Failure     503 {object} router.Response
// @Router      /session/status [get]
func (h *Handler) GetSessionStatus(c *fiber.Ctx) error {
	if h.Bot == nil {
		return router.ResponseServiceUnavailable(c, "Bot is not running")
	}

	status := h.Bot.Status()
	return router.ResponseSuccessWithData(c, "Success get session status", ResponseSessionStatus{
		Status:  status,
		Healthy: status.State == session.StateOpen.String() && !status.Halted,
		Uptime:  time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// @Summary     Get WhatsApp Web Version
// @Description The version used for the next connect and the last refresh result
// @Tags        Session
// @Produce     json
// @Param       Authorization header string false "Bearer operator token"
// @Param       X-Admin-Secret header string false "Admin secret key"
// @Success     200 {object} pkgWhatsApp.WAVersionRefreshStatus
// @Failure     401 {object} router.Response
// @Router      /session/wa-version [get]
func (h *Handler) GetWhatsAppWebVersion(c *fiber.Ctx) error {
	if h.Versions == nil {
		return router.ResponseServiceUnavailable(c, "Version source is not configured")
	}
	return router.ResponseSuccessWithData(c, "Success get WhatsApp Web version", h.Versions.Status())
}

// @Summary     Refresh WhatsApp Web Version
// @Description Fetch the latest WhatsApp Web version. Pass force=false to honour the refresh interval.
// @Tags        Session
// @Produce     json
// @Param       Authorization header string false "Bearer operator token"
// @Param       X-Admin-Secret header string false "Admin secret key"
// @Param       force query bool false "Ignore the minimum refresh interval" default(true)
// @Success     200 {object} ResponseVersionRefresh
// @Failure     400 {object} router.Response
// @Failure     502 {object} router.Response
// @Router      /session/wa-version/refresh [post]
func (h *Handler) RefreshWhatsAppWebVersion(c *fiber.Ctx) error {
	if h.Versions == nil {
		return router.ResponseServiceUnavailable(c, "Version source is not configured")
	}

	force := true
	if raw := c.Query("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return router.ResponseBadRequest(c, "force must be a boolean")
		}
		force = parsed
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	status, refreshed, err := h.Versions.Refresh(ctx, force)
	if err != nil {
		return router.ResponseBadGateway(c, "Failed to refresh WhatsApp Web version: "+err.Error())
	}

	message := "WhatsApp Web version is up to date"
	if refreshed {
		message = "WhatsApp Web version refreshed"
	}
	return router.ResponseSuccessWithData(c, message, ResponseVersionRefresh{
		WAVersionRefreshStatus: status,
		Refreshed:              refreshed,
	})
}

// @Summary     Get Webhook Stats
// @Description Delivery counters of the lifecycle webhooks
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} webhook.StatsSnapshot
// @Failure     401 {object} router.Response
// @Router      /admin/webhooks/stats [get]
func (h *Handler) GetWebhookStats(c *fiber.Ctx) error {
	if h.Webhooks == nil {
		return router.ResponseServiceUnavailable(c, "Webhooks are not configured")
	}
	return router.ResponseSuccessWithData(c, "Success get webhook stats", h.Webhooks.Snapshot())
}
