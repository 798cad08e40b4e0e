package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mls_syncd/config"
	"mls_syncd/httputil"
	"mls_syncd/logging"
	"mls_syncd/media"
	"mls_syncd/models"
	"mls_syncd/provider"
	"mls_syncd/scheduler"
	"mls_syncd/storage"
	"mls_syncd/sync"
)

var (
	syncNow      = flag.Bool("sync", false, "Run a sync for all providers once and exit")
	syncProvider = flag.String("provider", "", "With -sync, limit the run to one provider")
	fullSync     = flag.Bool("full", false, "With -sync, force a full sync instead of incremental")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("mls_syncd.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting mls_syncd...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d provider configs", len(cfg.Providers))
	for id, pc := range cfg.Providers {
		log.Printf("  - %s (%s, %s)", pc.Name, id, pc.Kind)
	}

	clients := httputil.NewClients(cfg.Media.DownloadTimeout)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))

	opsStore, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.OpsDBPath)

	var pipeline sync.MediaProcessor
	if cfg.S3.Bucket != "" {
		blobStore, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to init S3: %v", err)
		}
		pipeline = media.NewPipeline(clients.Media, blobStore, cfg.Media.MaxBytes, "listings")
		log.Printf("S3 bucket: %s", cfg.S3.Bucket)
	} else {
		log.Println("No S3 bucket configured, media processing disabled")
	}

	factory := func(pc *config.ProviderConfig, creds config.Credentials) (provider.Adapter, error) {
		return provider.New(pc, creds, clients.Provider)
	}
	coordinator := sync.NewCoordinator(cfg, pgStore, pgStore, pgStore, pipeline, factory)

	if *syncNow {
		runOnce(ctx, coordinator, *syncProvider, *fullSync)
		return
	}

	sched := scheduler.New(cfg, coordinator, opsStore)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// runOnce triggers syncs synchronously and waits for them to drain, for the
// -sync one-shot mode.
func runOnce(ctx context.Context, coordinator *sync.Coordinator, providerID string, full bool) {
	kind := models.SyncKindIncremental
	if full {
		kind = models.SyncKindFull
	}

	targets := coordinator.ProviderIDs()
	if providerID != "" {
		targets = []string{providerID}
	}

	for _, id := range targets {
		if _, err := coordinator.TriggerSync(ctx, id, kind, "cli"); err != nil {
			log.Printf("Trigger %s: %v", id, err)
		}
	}

	for _, id := range targets {
		for coordinator.InFlight(id) {
			time.Sleep(200 * time.Millisecond)
		}
	}

	log.Println("Sync complete")
}

// maskConnectionString masks the password in a connection string for logging.
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
