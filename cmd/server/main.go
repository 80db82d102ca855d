// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"canfix-service/internal/adapter"
	"canfix-service/internal/canfix"
	"canfix-service/internal/capture"
	"canfix-service/internal/config"
	"canfix-service/internal/connection"
	"canfix-service/internal/dictionary"
	"canfix-service/internal/handler"
	"canfix-service/internal/routes"
	"canfix-service/internal/service"
	"canfix-service/internal/utils"
)

const (
	connectTimeout  = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Application represents the main application
type Application struct {
	config        *config.Config
	logger        *zap.Logger
	serviceLogger *utils.ServiceLogger
	server        *http.Server

	codec      *canfix.Codec
	registry   *adapter.Registry
	recorder   *capture.Writer
	busService *service.BusService
	wsHandler  *handler.WebSocketHandler
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer utils.LogPanic(app.logger)

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config:        cfg,
		logger:        logger,
		serviceLogger: utils.NewServiceLogger(logger, "canfix-service"),
	}
	app.serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	if err := app.initializeCodec(); err != nil {
		return nil, fmt.Errorf("failed to initialize codec: %w", err)
	}

	if err := app.initializeAdapterRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize adapter registry: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeCodec loads the parameter dictionary
func (app *Application) initializeCodec() error {
	dict, err := dictionary.Load(app.config.Dictionary.Path)
	if err != nil {
		return err
	}
	app.codec = canfix.NewCodec(dict)

	app.logger.Info("Parameter dictionary loaded",
		zap.String("path", app.config.Dictionary.Path),
		zap.String("version", dict.Version()),
		zap.Int("parameters", dict.Len()),
	)
	return nil
}

// initializeAdapterRegistry registers the built-in adapters
func (app *Application) initializeAdapterRegistry() error {
	app.registry = adapter.NewDefaultRegistry(app.logger)
	if !app.registry.IsSupported(app.config.Connection.Adapter) {
		return fmt.Errorf("adapter %q not registered (have %v)", app.config.Connection.Adapter, app.registry.Names())
	}

	app.logger.Info("Adapter registry initialized",
		zap.Strings("adapters", app.registry.Names()),
		zap.String("selected", app.config.Connection.Adapter),
	)
	return nil
}

// initializeServices builds the connection and the bus service
func (app *Application) initializeServices() error {
	opts := []connection.Option{
		connection.WithDeps(adapter.Deps{Codec: app.codec}),
	}

	if app.config.Capture.Enabled {
		recorder, err := capture.Create(app.config.Capture.Path, app.logger)
		if err != nil {
			return err
		}
		recorder.Direction = connection.Direction(app.config.Capture.Direction)
		app.recorder = recorder
		opts = append(opts, connection.WithRecorder(recorder))
	}

	conn := connection.New(app.config.ConnectionSettings(), app.registry, app.logger, opts...)
	app.busService = service.NewBusService(conn, app.codec, app.config.Connection.Adapter, app.logger)

	app.logger.Info("Services initialized successfully",
		zap.String("connection_id", conn.ID()),
		zap.Bool("capture", app.recorder != nil),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		app.logger.Info("HTTP server disabled")
		return nil
	}

	app.wsHandler = handler.NewWebSocketHandler(app.busService, &app.config.Security, app.logger)
	app.busService.SetPublisher(handler.NewBusEventHandler(app.wsHandler.EventBus()))

	routerManager := routes.NewRouter(app.config, app.logger, app.registry, app.busService, app.wsHandler)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("debug", app.config.IsDebugEnabled()),
	)
	return nil
}

// Start connects the bus when configured, serves HTTP and blocks until a
// shutdown signal arrives
func (app *Application) Start() error {
	if app.config.Connection.AutoConnect {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := app.busService.Connect(ctx)
		cancel()
		if err != nil {
			// the API can retry through /api/v1/connection/connect
			utils.LogError(app.logger, "Initial bus connection failed", err,
				zap.String("adapter", app.config.Connection.Adapter),
			)
		}
	}

	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}()
	}

	app.waitForShutdown()
	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	app.serviceLogger.LogServiceStop("shutdown signal received")

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}

	if err := app.busService.Disconnect(); err != nil {
		app.logger.Error("Bus disconnect error", zap.Error(err))
	}

	if app.wsHandler != nil {
		app.wsHandler.Close()
	}

	if app.recorder != nil {
		if err := app.recorder.Close(); err != nil {
			app.logger.Error("Capture close error", zap.Error(err))
		} else {
			app.logger.Info("Capture file closed", zap.Int("frames", app.recorder.Count()))
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
