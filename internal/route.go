package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/connection"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/router"
)

// NewServer builds the read-only status server.
func NewServer(a *App) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          router.HttpErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(router.HttpRequestContext())
	app.Use(router.RecoveryMiddleware())
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowMethods: "GET",
		AllowHeaders: "Authorization, " + auth.HeaderSecret,
	}))

	app.Get("/favicon.ico", router.ResponseNoContent)
	Routes(app, a)
	return app
}

func Routes(app *fiber.App, a *App) {
	if router.BaseURL == "" {
		app.Get("/", a.index)
	} else {
		app.Get(router.BaseURL, a.index)
		app.Get(router.BaseURL+"/", a.index)
	}

	app.Get(router.BaseURL+"/health", a.health)
	guard := a.Auth.Middleware()
	app.Get(router.BaseURL+"/plugins", guard, router.HttpCacheInMemory(router.CacheTTLSeconds), a.plugins)
	app.Get(router.BaseURL+"/pair", guard, a.pair)
}

func (a *App) index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, a.Config.BotName+" is running")
}

type healthData struct {
	connection.Status
	Uptime  string `json:"uptime"`
	Plugins int    `json:"plugins"`
}

func (a *App) health(c *fiber.Ctx) error {
	data := healthData{
		Status:  a.Manager.Status(),
		Uptime:  time.Since(a.Started).Truncate(time.Second).String(),
		Plugins: a.Registry.Len(),
	}
	if data.OpenSince == nil {
		return router.ResponseUnavailableWithData(c, "WhatsApp is not connected", data)
	}
	return router.ResponseSuccessWithData(c, "", data)
}

func (a *App) plugins(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "", a.Registry.Descriptors())
}

func (a *App) pair(c *fiber.Ctx) error {
	dataURL, ok := a.QR.DataURL()
	if !ok {
		return router.ResponseNotFound(c, "No pairing in progress")
	}
	return router.ResponseSuccessWithData(c, "", fiber.Map{"qr": dataURL})
}
