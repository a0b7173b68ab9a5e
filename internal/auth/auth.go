package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	typAuth "github.com/gdbrns/go-whatsapp-echo-bot/internal/auth/types"
	pkgAuth "github.com/gdbrns/go-whatsapp-echo-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/router"
)

const defaultSubject = "operator"

// IssueToken issues a short-lived operator JWT
// @Summary     Issue Operator Token
// @Description Exchange the admin secret for a short-lived operator JWT.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       body body typAuth.RequestIssueToken false "Token subject (optional)"
// @Success     201 {object} typAuth.ResponseToken
// @Failure     401 {object} router.Response
// @Failure     500 {object} router.Response
// @Router      /auth/token [post]
func IssueToken(c *fiber.Ctx) error {
	var req typAuth.RequestIssueToken
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return router.ResponseBadRequest(c, "Invalid request body")
		}
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = defaultSubject
	}

	token, expiresAt, err := pkgAuth.GenerateOperatorToken(subject)
	if err != nil {
		if errors.Is(err, pkgAuth.ErrJWTNotConfigured) {
			return router.ResponseInternalError(c, "Token signing key not configured")
		}
		return router.ResponseInternalError(c, "Failed to generate token: "+err.Error())
	}

	return router.ResponseCreatedWithData(c, "Token issued successfully", typAuth.ResponseToken{
		Token:     token,
		TokenType: "Bearer",
		Subject:   subject,
		ExpiresAt: expiresAt.UTC(),
	})
}
