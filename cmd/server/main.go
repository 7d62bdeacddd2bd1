package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/promotrack/insights-api/configs"
	"github.com/promotrack/insights-api/internal/api/handlers"
	"github.com/promotrack/insights-api/internal/api/middleware"
	job "github.com/promotrack/insights-api/internal/jobs"
	"github.com/promotrack/insights-api/internal/queue"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	trackedPostRepo := repository.NewTrackedPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	historyRepo := repository.NewMeasurementHistoryRepository(db)

	instagramService := service.NewInstagramService(*cfg, socialAccountRepo)
	credentialService := service.NewCredentialService(*cfg, socialAccountRepo, instagramService)
	insightsService := service.NewInsightsService()
	thumbnailService := service.NewThumbnailService(*cfg)
	trackingService := service.NewTrackingService(trackedPostRepo, thumbnailService)
	measurementService := service.NewMeasurementService(trackedPostRepo, historyRepo, credentialService, insightsService, thumbnailService)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	platform := handlers.NewPlatformHandler(*cfg, instagramService, credentialService, insightsService, socialAccountRepo)
	app.Get("/auth/instagram", platform.AddSocialAccount)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	app.Get("/auth/instagram/callback", authMiddleware.AuthMiddleware(), platform.CallbackHandler)

	post := handlers.NewPostHandler(trackingService, historyRepo)
	api.Post("/posts/register", post.RegisterPost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/history", post.ListHistory)

	// social accounts api routes
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Post("/accounts/remove", platform.DeleteSocialAccount)
	api.Get("/media", platform.ListMedia)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, credentialService)
	scanJob := job.NewMeasurementScanJob(trackedPostRepo, client)

	//queue
	queueW := queue.NewQueue(measurementService)

	c := cron.New()
	c.AddFunc(cfg.TokenRefreshCron, refreshTokenJob.RefreshTokens)
	c.AddFunc(cfg.MeasurementCron, scanJob.Scan)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeMeasurePost, queueW.HandleMeasurePostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
