// Package auth guards the status server routes that expose the session: a shared
// secret header or a bearer token signed with that secret.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/router"
)

const HeaderSecret = "X-Bot-Secret"

// MinSecretLength applies to SERVER_AUTH_SECRET.
const MinSecretLength = 32

type Guard struct {
	secret []byte
}

// New returns a guard for secret. With an empty secret every guarded request is refused.
func New(secret string) *Guard {
	return &Guard{secret: []byte(strings.TrimSpace(secret))}
}

func (g *Guard) Enabled() bool {
	return g != nil && len(g.secret) > 0
}

// Middleware accepts the secret in X-Bot-Secret or a token from IssueToken as
// "Authorization: Bearer <token>".
func (g *Guard) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !g.Enabled() {
			return router.ResponseForbidden(c, "SERVER_AUTH_SECRET is not configured")
		}

		if secret := c.Get(HeaderSecret); secret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), g.secret) != 1 {
				return router.ResponseUnauthorized(c, "Invalid secret")
			}
			c.Locals("auth_subject", "secret")
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing "+HeaderSecret+" or Authorization header")
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		claims, err := g.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}
		c.Locals("auth_subject", claims.Subject)
		return c.Next()
	}
}
