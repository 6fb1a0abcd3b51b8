package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

func main() {
	logx.SetLevel(logx.ParseLevel(os.Getenv("LOG_LEVEL")))
	logx.Info("starting passport server")

	cfg := config.Load()
	container := NewContainer(cfg)
	defer container.Cleanup()

	app := fiber.New(fiber.Config{
		AppName:               "Passport",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.NewString()
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Tenant-ID, X-Request-ID",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: cfg.Server.CORSOrigins != "*",
		ExposeHeaders:    "X-Request-ID",
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Get("/health", healthCheckHandler(container))

	container.IDP.Handler.RegisterRoutes(app)
	logx.Info("protocol routes registered")

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"code":    "NOT_FOUND",
			"message": "route not found",
		})
	})

	startServer(app, cfg)
}

// healthCheckHandler probes the shared infrastructure.
func healthCheckHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		status := fiber.StatusOK

		if err := container.DB.PingContext(c.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = "down"
			status = fiber.StatusServiceUnavailable
		} else {
			health["database"] = "up"
		}
		if err := container.Redis.Ping(c.Context()).Err(); err != nil {
			health["status"] = "degraded"
			health["redis"] = "down"
			status = fiber.StatusServiceUnavailable
		} else {
			health["redis"] = "up"
		}
		return c.Status(status).JSON(health)
	}
}

// globalErrorHandler converts internal errors to standard HTTP responses.
func globalErrorHandler(c *fiber.Ctx, err error) error {
	logx.WithFields(logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": c.Get("X-Request-ID"),
	}).Errorf("request error: %v", err)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"code":    "HTTP_ERROR",
			"message": e.Message,
		})
	}
	if e, ok := err.(*errx.Error); ok {
		return c.Status(e.HTTPStatus).JSON(e.ToHTTPResponse())
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":    "INTERNAL_ERROR",
		"message": "internal error",
	})
}

func startServer(app *fiber.App, cfg *config.Config) {
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logx.Infof("listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logx.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		logx.WithError(err).Error("graceful shutdown failed")
	}
	logx.Info("server stopped")
}
