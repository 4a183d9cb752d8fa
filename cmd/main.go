package main

import (
	"context"
	"fmt"
	"os"

	"walink-service/internal/handler"
	"walink-service/internal/model"
	"walink-service/internal/service"
	"walink-service/internal/store"
	"walink-service/pkg/config"
	"walink-service/pkg/crm"
	"walink-service/pkg/database"
	"walink-service/pkg/gateway"
	"walink-service/pkg/jwtutil"
	"walink-service/pkg/logger"
	"walink-service/pkg/metrics"
	"walink-service/pkg/middleware"

	"github.com/labstack/echo/v4"
)

func main() {
	// Load configuration
	conf, err := config.Load("walink")
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	err = logger.InitLogger(&logger.LogConfig{
		Level:       conf.Log.Level,
		Environment: conf.Server.Env,
		ServiceName: conf.ServiceName,
	})
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	// Initialize database connection
	db, err := database.InitDB(&conf.Database)
	if err != nil {
		log.Fatal("Failed to initialize database")
	}

	// Run migrations
	if err := database.MigrateModels(
		&model.Tenant{},
		&model.User{},
		&model.CRMLink{},
		&model.MessagingInstance{},
	); err != nil {
		log.Fatal("Failed to migrate database models")
	}

	// External clients
	gatewayClient := gateway.NewClient(conf.Gateway.BaseURL, conf.Gateway.APIKey, conf.Gateway.Timeout)
	crmClient := crm.NewClient(conf.CRMOAuth.BaseURL, conf.CRMOAuth.ClientID, conf.CRMOAuth.ClientSecret, conf.CRMOAuth.RedirectURI)

	// Stores and services
	tenantStore := store.NewTenantStore(db)
	linkStore := store.NewLinkStore(db)
	instanceStore := store.NewInstanceStore(db)

	linkingService := service.NewLinkingService(tenantStore, linkStore, crmClient)
	instanceService := service.NewInstanceService(linkStore, instanceStore, gatewayClient)

	// Initialize JWT utility
	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      conf.JWT.SigningKey,
		ExpirationHours: conf.JWT.ExpirationHours,
	})

	// Initialize HTTP metrics
	httpMetrics := metrics.NewHTTPMetrics(conf.ServiceName)

	// Handlers
	authHandler := handler.NewAuthHandler(jwt)
	linkHandler := handler.NewLinkHandler(linkingService, crmClient)
	instanceHandler := handler.NewInstanceHandler(instanceService)

	// Initialize Echo framework
	e := echo.New()

	// Apply middleware
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(httpMetrics.Middleware())

	// Public routes
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(metrics.GetPrometheusHandler()))
	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/login", authHandler.Login)

	// Secured routes - require authentication
	links := e.Group("/links")
	links.Use(middleware.JWTAuthMiddleware(jwt))
	links.POST("/oauth/callback", linkHandler.OAuthCallback)
	links.POST("/claim", linkHandler.Claim)
	links.GET("", linkHandler.List)
	links.POST("/:id/refresh", linkHandler.RefreshTokens)
	links.DELETE("/:id", linkHandler.Revoke)

	instances := e.Group("/instances")
	instances.Use(middleware.JWTAuthMiddleware(jwt))
	instances.POST("", instanceHandler.Create)
	instances.GET("", instanceHandler.List)
	instances.GET("/:id", instanceHandler.Get)
	instances.POST("/:id/connect", instanceHandler.Connect)
	instances.POST("/:id/refresh", instanceHandler.Refresh)
	instances.POST("/:id/disconnect", instanceHandler.Disconnect)
	instances.DELETE("/:id", instanceHandler.Delete)

	// Start the gateway status poller
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if conf.Poller.Enabled {
		poller := service.NewPoller(instanceStore, instanceService, gatewayClient, conf.Poller.Interval)
		go poller.Start(ctx)
	}

	// Start server
	log.Info("Starting walink-service on port " + conf.Server.Port)
	e.Logger.Fatal(e.Start(":" + conf.Server.Port))
}
