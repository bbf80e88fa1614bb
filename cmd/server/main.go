package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/smartcity/ecoflow/internal/config"
	"github.com/smartcity/ecoflow/internal/delivery/http"
	"github.com/smartcity/ecoflow/internal/domain"
	"github.com/smartcity/ecoflow/internal/ingest"
	"github.com/smartcity/ecoflow/internal/repository/memory"
	"github.com/smartcity/ecoflow/internal/repository/postgres"
	"github.com/smartcity/ecoflow/internal/repository/sqlite"
	"github.com/smartcity/ecoflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	cfg.SetupLogging()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Dependency Injection: Repositories
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Dependency Injection: Services
	var predictor service.CongestionPredictor = service.HeuristicPredictor{}
	if cfg.MLServiceURL != "" {
		predictor = service.NewMLBridge(cfg.MLServiceURL)
		log.Printf("Using ML service at %s", cfg.MLServiceURL)
	} else {
		log.Println("ML_SERVICE_URL not set, using heuristic congestion model")
	}

	assigner, err := cfg.Assigner()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	trafficSvc := service.NewTrafficService(predictor, store, assigner, service.Options{
		PredictTimeout:  cfg.PredictTimeout,
		TickInterval:    cfg.TickInterval,
		RefreshInterval: cfg.RefreshInterval,
		Location:        cfg.Location(),
	})
	dashboardSvc := service.NewDashboardService(trafficSvc, store, predictor)

	if err := loadWorkingSet(ctx, cfg, trafficSvc); err != nil {
		log.Fatalf("Failed to load road network: %v", err)
	}

	// First prediction; on failure the stored congestion keeps being served
	now := trafficSvc.Now()
	log.Printf("Running congestion prediction for %s (%s)", now, cfg.Timezone)
	if _, err := trafficSvc.Refresh(ctx, now); err != nil {
		log.Warnf("Using previously loaded congestion data due to prediction failure: %v", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		trafficSvc.Run(runCtx)
		close(runDone)
	}()

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "EcoFlow API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: http.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	http.SetupRoutes(app, trafficSvc, dashboardSvc)

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopRun()
	<-runDone
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	trafficSvc.WaitBackground()
	log.Println("Server exited gracefully")
}

// openStore picks Postgres, then SQLite, then memory. Connection failures fall back to memory.
func openStore(ctx context.Context, cfg *config.Config) (service.Store, func()) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err != nil {
			log.Warnf("Could not connect to database: %v", err)
			log.Println("Running with in-memory store only")
			if pool != nil {
				pool.Close()
			}
			return memory.NewRepository(), func() {}
		}

		repo := postgres.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare database: %v", err)
		}
		log.Println("Connected to PostgreSQL")
		return repo, pool.Close
	}

	if cfg.SQLitePath != "" {
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			log.Warnf("Could not open SQLite database: %v", err)
			return memory.NewRepository(), func() {}
		}
		return repo, func() { repo.Close() }
	}

	log.Println("No database configured, using in-memory store")
	return memory.NewRepository(), func() {}
}

// loadWorkingSet restores roads and zones from the store, or builds them from the OSM extracts
func loadWorkingSet(ctx context.Context, cfg *config.Config, trafficSvc *service.TrafficService) error {
	err := trafficSvc.Load(ctx)
	if err == nil {
		log.Println("Loaded roads and zones from store")
		return nil
	}
	if !errors.Is(err, domain.ErrNoSnapshot) {
		return err
	}

	log.Printf("Store is empty, extracting roads from %s", cfg.OSMDir)
	roads, err := ingest.LoadDir(ctx, cfg.OSMDir)
	if err != nil {
		return err
	}
	grid, err := cfg.Grid(roads)
	if err != nil {
		return err
	}
	_, err = trafficSvc.Bootstrap(ctx, roads, grid)
	return err
}
