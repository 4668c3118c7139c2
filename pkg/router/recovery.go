package router

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

// RecoveryMiddleware turns a panicking handler into a 500 envelope.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				message := fmt.Sprintf("%v", rec)
				log.Print(c).Error("panic recovered: " + message)
				err = c.Status(fiber.StatusInternalServerError).JSON(Response{
					Status:  false,
					Code:    fiber.StatusInternalServerError,
					Message: "Internal Server Error",
					Error:   message,
				})
			}
		}()
		return c.Next()
	}
}

