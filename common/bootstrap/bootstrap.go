package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/portfolio/showcase/common/config"
	"github.com/portfolio/showcase/common/db"
	"github.com/portfolio/showcase/common/logger"
	rediscommon "github.com/portfolio/showcase/common/redis"
	"github.com/portfolio/showcase/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (only the postgres asset source needs it)
	if !options.skipDB && components.Config.Showcase.AssetSource == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			components.Logger.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Initialize redis (asset change notifications)
	if !options.skipRedis && components.Config.Redis.Enabled {
		components.Logger.Info("connecting to redis", "addr", components.Config.RedisAddr())
		raw := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.RedisAddr(),
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		components.Redis = rediscommon.NewClient(raw, components.Config.Service.Name, components.Logger)

		if err := components.Redis.Ping(ctx); err != nil {
			// Change notifications are optional; sessions still work off the initial list
			components.Logger.Warn("redis unavailable, asset change notifications disabled", "error", err)
			raw.Close()
			components.Redis = nil
		} else {
			components.addCleanup(func() error {
				components.Logger.Info("closing redis")
				return components.Redis.Close()
			})
		}
	}

	// 5. Initialize telemetry (if not skipped)
	if !options.skipTelemetry {
		tc := components.Config.Telemetry
		pprofPort, metricsPort := 0, 0
		if tc.EnablePprof {
			pprofPort = tc.PprofPort
		}
		if tc.EnableMetrics {
			metricsPort = tc.MetricsPort
		}

		if pprofPort > 0 || metricsPort > 0 {
			components.Logger.Info("initializing telemetry")
			components.Telemetry = telemetry.New(pprofPort, metricsPort, components.Logger)

			if err := components.Telemetry.Start(ctx); err != nil {
				components.Logger.Warn("failed to start telemetry", "error", err)
			}
			components.addCleanup(func() error {
				return components.Telemetry.Stop(context.Background())
			})
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
