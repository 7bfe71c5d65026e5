package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-and-delivery/internal/config"
	"pos-and-delivery/internal/modules/delivery"
	"pos-and-delivery/internal/modules/payments"
	"pos-and-delivery/pkg/gateway"
	"pos-and-delivery/pkg/routing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		ShortCode:   cfg.GatewayShortCode,
		Passkey:     cfg.GatewayPasskey,
		CallbackURL: cfg.GatewayCallbackURL,
		Timeout:     cfg.GatewayTimeout(),
	})

	var routerClient routing.ClientInterface
	if cfg.RoutingBaseURL != "" {
		routerClient = routing.NewClient(routing.Config{
			BaseURL: cfg.RoutingBaseURL,
			Timeout: cfg.RoutingTimeout(),
		})
	}

	paymentRepo := payments.NewRepository(pool)
	paymentSvc := payments.NewService(paymentRepo, gatewayClient, cfg.PhoneCountryCode, cfg.GatewayTimeout(), logger)
	paymentHandler := payments.NewHandler(paymentSvc)

	deliveryRepo := delivery.NewRepository(pool)
	deliverySvc := delivery.NewService(deliveryRepo, routerClient, cfg.RoutingTimeout(), cfg.GeofenceRadiusM, logger)
	deliveryHandler := delivery.NewHandler(deliverySvc)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))

	api := e.Group("/api/v1")
	paymentHandler.RegisterRoutes(api)
	deliveryHandler.RegisterRoutes(api)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
