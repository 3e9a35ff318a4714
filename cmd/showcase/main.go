package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/portfolio/showcase/cmd/showcase/container"
	"github.com/portfolio/showcase/cmd/showcase/provider"
	"github.com/portfolio/showcase/cmd/showcase/routes"
	"github.com/portfolio/showcase/common/bootstrap"
	"github.com/portfolio/showcase/common/db"
	"github.com/portfolio/showcase/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (logger, optional DB and redis, telemetry)
	components, err := bootstrap.Setup(ctx, "showcase",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return provider.EnsureSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap showcase: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Reload the asset list whenever another instance announces a change
	go func() {
		if err := serviceContainer.Notifier.Run(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("asset change notifier stopped", "error", err)
		}
	}()

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e)

	// Setup health check
	setupHealthCheck(e, serviceContainer)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Start server
	if err := startServer(ctx, e, serviceContainer); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		status, code := "ok", http.StatusOK
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		_, hash := c.Catalog.Assets()
		return ctx.JSON(code, map[string]interface{}{
			"status":   status,
			"service":  "showcase",
			"sessions": c.Hub.Count(),
			"assets":   hash,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterAssetRoutes(e, serviceContainer)
	routes.RegisterBlobRoutes(e, serviceContainer)
	routes.RegisterSessionRoutes(e, serviceContainer)
}

// startServer serves until a shutdown signal, then closes every session
func startServer(ctx context.Context, e *echo.Echo, c *container.Container) error {
	port := c.Components.Config.Service.Port
	c.Components.Logger.Info("Starting showcase", "port", port)

	srv := server.New("showcase", port, e, c.Components.Logger)
	srv.OnShutdown(func(context.Context) {
		c.Hub.CloseAll()
	})
	return srv.Start(ctx)
}
