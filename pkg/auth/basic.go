package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/router"
)

const (
	HeaderAdminSecret = "X-Admin-Secret"
	adminSubject      = "admin"
)

func checkAdminSecret(supplied string) (ok bool, configured bool) {
	adminSecret, _, _ := secrets()
	if adminSecret == "" {
		return false, false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(adminSecret)) == 1, true
}

// AdminAuth validates the X-Admin-Secret header for admin endpoints
func AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		adminSecret := c.Get(HeaderAdminSecret)
		if adminSecret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}

		ok, configured := checkAdminSecret(adminSecret)
		if !configured {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}
		if !ok {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}

		c.Locals("operator", adminSubject)
		return c.Next()
	}
}

// OperatorAuth accepts either a Bearer operator token or the admin secret.
// Token format: "Bearer <jwt_token>"
func OperatorAuth() fiber.Handler {
	admin := AdminAuth()

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			if c.Get(HeaderAdminSecret) != "" {
				return admin(c)
			}
			return router.ResponseUnauthorized(c, "Missing Authorization or X-Admin-Secret header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := ValidateOperatorToken(tokenString)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("operator", claims.Subject)
		return c.Next()
	}
}
