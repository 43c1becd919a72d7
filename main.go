package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/tokopakaian/storefront/internal/api"
	"github.com/tokopakaian/storefront/internal/db"
	"github.com/tokopakaian/storefront/internal/metrics"
	"github.com/tokopakaian/storefront/internal/services"
	"github.com/tokopakaian/storefront/pkg/config"
)

func main() {
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Apply schema if the file is present
	schemaSQL, err := os.ReadFile("schema.sql")
	if err != nil {
		log.Printf("Warning: Could not read schema.sql: %v", err)
		log.Println("Assuming database schema already exists")
	} else {
		if err := database.InitSchema(ctx, string(schemaSQL)); err != nil {
			log.Printf("Warning: Could not initialize schema: %v", err)
			log.Println("Assuming database schema already exists")
		}
	}

	userService := services.NewUserService(database, appMetrics)
	productService := services.NewProductService(database, appMetrics)
	cartService := services.NewCartService(database, appMetrics)
	orderService := services.NewOrderService(database, appMetrics)

	go cartService.StartMonitor(ctx)

	app := api.NewApp(cfg, database, appMetrics, userService, productService, cartService, orderService)

	router := mux.NewRouter()
	app.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.AppPort)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
