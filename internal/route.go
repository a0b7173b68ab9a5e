package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	ctlAdmin "github.com/gdbrns/go-whatsapp-echo-bot/internal/admin"
	ctlAuth "github.com/gdbrns/go-whatsapp-echo-bot/internal/auth"
	ctlIndex "github.com/gdbrns/go-whatsapp-echo-bot/internal/index"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/router"
)

func Routes(app *fiber.App, admin *ctlAdmin.Handler) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile(router.DocsDir + "/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/swagger.yaml", func(c *fiber.Ctx) error {
		return c.SendFile(router.DocsDir + "/swagger.yaml")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	adminMiddleware := auth.AdminAuth()
	operatorMiddleware := auth.OperatorAuth()

	// Route for Operator Tokens (X-Admin-Secret)
	// ---------------------------------------------
	app.Post(router.BaseURL+"/auth/token", adminMiddleware, ctlAuth.IssueToken)

	// Route for Session (Bearer token or X-Admin-Secret)
	// ---------------------------------------------
	app.Get(router.BaseURL+"/session/status", operatorMiddleware, admin.GetSessionStatus)
	app.Get(router.BaseURL+"/session/wa-version", operatorMiddleware, admin.GetWhatsAppWebVersion)
	app.Post(router.BaseURL+"/session/wa-version/refresh", operatorMiddleware, admin.RefreshWhatsAppWebVersion)

	// Route for Admin (X-Admin-Secret)
	// ---------------------------------------------
	app.Get(router.BaseURL+"/admin/webhooks/stats", adminMiddleware, admin.GetWebhookStats)

	app.Use(func(c *fiber.Ctx) error {
		return router.ResponseNotFound(c, "Route "+c.Method()+" "+c.Path()+" not found")
	})
}
