package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	api_utils "github.com/ethanbaker/api/pkg/utils"
	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	health_module "github.com/ethanbaker/meeting-assistant/internal/api/modules/health"
	session_module "github.com/ethanbaker/meeting-assistant/internal/api/modules/session"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
)

const shutdownTimeout = 10 * time.Second

// NewEngine builds the gin engine with all modules registered
func NewEngine(settings *config.Settings, controller session_module.Controller, device *capture.BrowserDevice) (*gin.Engine, error) {
	// Add app level settings/routes
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logging.L("api")))
	engine.NoRoute(api_utils.NoRouteHandler)

	// Add trusted proxies
	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}

	origins := settings.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Add CORS using gin-contrib/cors (https://github.com/gin-contrib/cors for documentation)
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"OPTIONS", "GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-KEY"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		AllowWebSockets:  true,
		MaxAge:           12 * time.Hour,
	}))

	// Base group '/api' for all API routes
	baseGroup := engine.Group("/api")

	// Adding custom modules
	health_module.RegisterRoutes(baseGroup)

	if err := session_module.Init(controller, device, settings.AllowedOrigins); err != nil {
		return nil, fmt.Errorf("failed to initialize session module: %w", err)
	}
	session_module.RegisterRoutes(baseGroup)

	return engine, nil
}

// Start serves the API until ctx is cancelled, then shuts the server down
func Start(ctx context.Context, settings *config.Settings, controller session_module.Controller, device *capture.BrowserDevice) error {
	log := logging.L("api")

	engine, err := NewEngine(settings, controller, device)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + settings.APIPort,
		Handler: engine,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// requestLogger logs each request through zap instead of gin's default writer
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
