package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ia-france-revolution/ademe-dashboard/internal/api"
	"github.com/ia-france-revolution/ademe-dashboard/internal/cache"
	"github.com/ia-france-revolution/ademe-dashboard/internal/dataset"
	"github.com/ia-france-revolution/ademe-dashboard/internal/ingest"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	cachePath := os.Getenv("CACHE_PATH")
	if cachePath == "" {
		cachePath = "ademe-cache.db"
	}

	cfg, err := ingest.LoadConfig(os.Getenv("DATASET_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load dataset config: %v", err)
	}

	store, err := cache.Open(cachePath, cfg.Dataset.SchemaVersion)
	if err != nil {
		log.Fatalf("Failed to open cache at %s: %v", cachePath, err)
	}
	defer store.Close()

	fetcher := ingest.NewHTTPFetcher(cfg.Dataset.Fetch)
	ds := dataset.NewService(cfg, fetcher, store)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := ds.Load(ctx, false); err != nil {
		cancel()
		log.Fatalf("Initial dataset load failed: %v", err)
	}
	cancel()
	log.Printf("Dataset %q loaded, %d records", cfg.Dataset.Name, ds.Status().RecordCount)

	srv := api.NewServer(ds, store)
	log.Printf("Server starting on port %s...", port)
	if err := srv.Start(port); err != nil {
		log.Fatal(err)
	}
}
