package main

// @title Go WhatsApp Echo Bot
// @version 1.0.0
// @description WhatsApp Web multi-device bot that acknowledges every inbound message, with a small operator API

// @contact.name gdbrns
// @contact.url https://github.com/gdbrns/go-whatsapp-echo-bot

// @license.name MIT
// @license.url https://github.com/gdbrns/go-whatsapp-echo-bot/blob/main/LICENSE

// @host localhost:7001
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for issuing operator tokens

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token for session operations

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/router"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal"
	"github.com/gdbrns/go-whatsapp-echo-bot/internal/config"
)

func newServer(app *internal.App) *fiber.App {
	server := fiber.New(fiber.Config{
		ErrorHandler:          router.HttpErrorHandler,
		BodyLimit:             router.BodyLimitBytes(),
		DisableStartupMessage: true,
	})

	// Request ID + panic recovery (structured JSON)
	server.Use(router.HttpRequestID())
	server.Use(router.RecoveryMiddleware())

	// Router Compression
	server.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs")
		},
	}))

	// Router CORS
	server.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Secret, X-Request-ID",
		AllowMethods: "GET,POST",
	}))

	// Router Security
	server.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	server.Use(router.HttpRealIP())

	// Router Default Handler
	server.Get("/favicon.ico", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	// Load Internal Routes
	internal.Routes(server, app.AdminHandler())

	return server
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Print(nil).Error(err.Error())
		return 1
	}
	log.SetLevel(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := internal.Startup(ctx, cfg)
	if err != nil {
		log.Print(nil).Error(err.Error())
		return 1
	}
	defer app.Close()

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Running Routines Tasks
	internal.Routines(c, app)
	defer c.Stop()

	var server *fiber.App
	if cfg.Server.Enabled {
		server = newServer(app)
		address := cfg.Server.Address + ":" + cfg.Server.Port

		go func() {
			log.Print(nil).Info("Operator API listening on " + address)
			if err := server.Listen(address); err != nil {
				log.Print(nil).Error("Operator API stopped: " + err.Error())
			}
		}()
	}

	// Running the Bot
	runDone := make(chan error, 1)
	go func() {
		runDone <- app.Run(ctx)
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigShutdown:
		log.Print(nil).Info("Received " + sig.String() + ", shutting down")
		cancel()
		runErr = <-runDone
	case runErr = <-runDone:
	}

	if server != nil {
		// Wait 5 Seconds Before Graceful Shutdown
		ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := server.ShutdownWithContext(ctxShutdown); err != nil {
			log.Print(nil).Error(err.Error())
		}
	}

	if runErr != nil {
		log.Print(nil).Error(runErr.Error())
		return 1
	}
	return 0
}
