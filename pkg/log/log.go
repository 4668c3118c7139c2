package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}
	return l
}

// SetDebug switches the shared logger between info and debug verbosity.
func SetDebug(enabled bool) {
	if enabled {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// Logger exposes the shared logger, mainly so tests can swap its output.
func Logger() *logrus.Logger {
	return logger
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
	if id, ok := c.Locals("request_id").(string); ok {
		fields["request_id"] = id
	}
	return logger.WithFields(fields)
}

// Component returns an entry tagged with the subsystem that produced it.
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Command returns an entry for one command invocation.
func Command(id string, command string, chat string, sender string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component":  "dispatch",
		"invocation": id,
		"command":    command,
		"chat":       MaskJID(chat),
		"sender":     MaskJID(sender),
	})
}

// MaskJID hides the last four characters of the user part of a JID.
func MaskJID(jid string) string {
	user, server := jid, ""
	for i := 0; i < len(jid); i++ {
		if jid[i] == '@' {
			user, server = jid[:i], jid[i:]
			break
		}
	}
	if len(user) < 4 {
		return jid
	}
	return user[0:len(user)-4] + "xxxx" + server
}
