package log

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/env"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     env.GetEnvBoolOrDefault("LOG_FORCE_COLORS", true),
	}

	SetLevel(env.GetEnvStringOrDefault("LOG_LEVEL", "info"))
}

// SetLevel changes the global level; unknown names keep the current level.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		logger.WithField("level", level).Warn("Invalid LOG_LEVEL value; keeping " + logger.GetLevel().String())
		return
	}
	logger.SetLevel(parsed)
}

func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	fields := logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	}
	if v := c.Locals("request_id"); v != nil {
		fields["request_id"] = v
	}
	return logger.WithFields(fields)
}

// Session returns an entry scoped to one WhatsApp account and operation.
// The JID is masked before it reaches the log output.
func Session(jid string, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"jid": MaskJID(jid),
		"op":  operation,
	})
}

// MaskJID hides the last four characters of the user part of a JID.
func MaskJID(jid string) string {
	user, server, hasServer := strings.Cut(jid, "@")
	if len(user) < 4 {
		return jid
	}
	masked := user[0:len(user)-4] + "xxxx"
	if hasServer {
		return masked + "@" + server
	}
	return masked
}
