package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"podpulse/internal/handlers"
	"podpulse/internal/jobs"
	"podpulse/internal/models"
	"podpulse/internal/storage"
	"podpulse/internal/tasks"
	"podpulse/internal/version"
	"podpulse/internal/worker"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load .env when present
	_ = godotenv.Load()

	port := getenv("PORT", "8080")
	dbPath := getenv("DB_PATH", "data/podpulse.db")
	dataDir := getenv("DATA_DIR", "data/media")

	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	keyRepo := storage.NewApiKeyRepository(db)
	jobRepo := storage.NewJobRepository(db)

	if err := seedApiKey(keyRepo); err != nil {
		log.Fatalf("Failed to seed api key: %v", err)
	}

	hub := tasks.NewHub()
	registry := tasks.NewRegistry(hub)
	registry.Start()
	defer registry.Stop()

	w := worker.NewWorker(jobRepo, registry)
	if interval := os.Getenv("WORKER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			w.SetInterval(d)
		}
	}
	w.RegisterHandler(models.TaskTypePodcastDownload, jobs.PodcastDownload(dataDir, nil))
	w.RegisterHandler(models.TaskTypeYouTubeDownload, jobs.YouTubeDownload(dataDir, nil))
	// New episodes found during a refresh become download jobs of their own
	w.RegisterHandler(models.TaskTypeFeedRefresh, jobs.FeedRefresh(nil, func(ctx context.Context, userID int64, ep jobs.FeedEpisode) {
		payload, err := json.Marshal(jobs.DownloadPayload{URL: ep.URL, EpisodeTitle: ep.Title})
		if err != nil {
			return
		}
		if _, err := w.SubmitJob(ctx, models.TaskTypePodcastDownload, userID, string(payload), models.JobPriorityBatch); err != nil {
			log.Printf("Failed to enqueue episode download: %v", err)
		}
	}))

	ctx := context.Background()
	w.Start(ctx)
	defer w.Stop()

	taskHandler := handlers.NewTaskHandler(registry, hub, keyRepo)
	jobHandler := handlers.NewJobHandler(jobRepo, w, keyRepo)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/ws/api/tasks/:user_id", taskHandler.Stream)
	e.GET("/api/tasks/active", taskHandler.Active)
	e.POST("/api/jobs", jobHandler.Submit)
	e.GET("/api/jobs", jobHandler.List)
	e.GET("/api/jobs/:id", jobHandler.Get)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	log.Printf("Starting podpulse v%s on port %s", version.Version, port)
	if err := e.Start(fmt.Sprintf(":%s", port)); err != nil {
		log.Fatal(err)
	}
}

// seedApiKey lets a deployment bootstrap one credential from the
// environment; anything beyond that is managed out of band.
func seedApiKey(repo *storage.ApiKeyRepository) error {
	key := os.Getenv("ADMIN_API_KEY")
	if key == "" {
		return nil
	}
	userID, err := strconv.ParseInt(getenv("ADMIN_USER_ID", "1"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ADMIN_USER_ID: %w", err)
	}
	return repo.Upsert(context.Background(), key, userID)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
