// Package main implements the tessera engine binary. It runs the WAL
// flusher and background merge daemon with a small HTTP surface for health
// checks and manual merge triggers, or inspects the catalog and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tesseradb/tessera/internal/archive"
	"github.com/tesseradb/tessera/internal/catalog"
	"github.com/tesseradb/tessera/internal/chunk"
	"github.com/tesseradb/tessera/internal/config"
	"github.com/tesseradb/tessera/internal/granule"
	"github.com/tesseradb/tessera/internal/ingest"
	"github.com/tesseradb/tessera/internal/merge"
	"github.com/tesseradb/tessera/pkg/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML or JSON config file")
		httpAddr   = flag.String("http-addr", ":8082", "HTTP server address for health and trigger endpoints")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()
	log.Printf("tessera: catalog opened at %s", cfg.CatalogPath())

	store, err := chunk.NewStore(cfg.Merge.ChunkDir)
	if err != nil {
		log.Fatalf("Failed to open chunk store: %v", err)
	}
	log.Printf("tessera: chunk store at %s", cfg.Merge.ChunkDir)

	if cfg.Mode == config.ModeInspect {
		if err := inspect(context.Background(), cat, store, cfg.Granule.Size); err != nil {
			log.Fatalf("Inspect failed: %v", err)
		}
		return
	}

	storage, err := openStorage(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to open object storage: %v", err)
	}
	archiver := archive.NewChunkArchiver(store, storage, cfg.Storage.WorkDir)

	daemon := merge.NewDaemon(merge.DaemonConfig{
		MaxChunksPerTable: cfg.Merge.MaxChunksPerTable,
		SmallChunkRows:    cfg.Merge.SmallChunkRows,
		RetireGrace:       cfg.Merge.RetireGrace,
		CheckInterval:     cfg.Merge.CheckInterval,
	}, cat, store)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/trigger", triggerHandler(daemon))
	mux.HandleFunc("/archive", archiveHandler(archiver))

	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("tessera: HTTP server listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tessera: HTTP server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	var wal *ingest.WAL
	flusherDone := make(chan struct{})
	if cfg.Mode == config.ModeAll {
		wal, err = ingest.NewWAL(cfg.Ingest.WALDir, cfg.Ingest.MaxSegmentSize)
		if err != nil {
			log.Fatalf("Failed to open write-ahead log: %v", err)
		}
		flusher := ingest.NewFlusher(wal, store, cat, cfg.Ingest.FlushInterval)
		go func() {
			defer close(flusherDone)
			flusher.Run(ctx)
		}()
		log.Printf("tessera: WAL flusher started, dir=%s interval=%v", cfg.Ingest.WALDir, cfg.Ingest.FlushInterval)
	} else {
		close(flusherDone)
	}

	if cfg.ShouldRunMerge() {
		if err := daemon.Start(ctx); err != nil {
			log.Fatalf("Failed to start merge daemon: %v", err)
		}
		log.Printf("tessera: merge daemon started, interval=%v", cfg.Merge.CheckInterval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("tessera: received signal %v, shutting down", sig)

	cancel()
	if err := daemon.Stop(); err != nil {
		log.Printf("tessera: daemon stop error: %v", err)
	}
	<-flusherDone
	if wal != nil {
		if err := wal.Close(); err != nil {
			log.Printf("tessera: WAL close error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("tessera: HTTP server shutdown error: %v", err)
	}

	log.Printf("tessera: stopped")
}

// openStorage builds the cold-tier client from configuration.
func openStorage(ctx context.Context, cfg *config.Config) (archive.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		return archive.NewS3Storage(ctx, cfg.Storage.S3.Bucket, archive.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
	default:
		return archive.NewLocalStorage(cfg.Storage.Path)
	}
}

// inspect prints every table with its schema version, live chunks, and
// per-chunk granule bounds.
func inspect(ctx context.Context, cat *catalog.Catalog, store *chunk.Store, granuleSize int) error {
	tables, err := cat.ListTables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Println("catalog is empty")
		return nil
	}
	for _, table := range tables {
		schema, version, err := cat.Table(ctx, table)
		if err != nil {
			return err
		}
		live, err := cat.LiveChunks(ctx, table)
		if err != nil {
			return err
		}
		fmt.Printf("table %s (v%d, %d columns, %d live chunks)\n",
			table, version, len(schema.Columns), len(live))
		for _, rec := range live {
			fmt.Printf("  %s  rows=%d  created=%s\n",
				rec.ID, rec.RowCount, rec.CreatedAt.Format(time.RFC3339))
			r, err := store.OpenChunk(rec.ID, schema)
			if err != nil {
				fmt.Printf("    (unreadable: %v)\n", err)
				continue
			}
			ix, err := granule.Build(schema, r.Rows(), granuleSize)
			if err != nil {
				fmt.Printf("    (index failed: %v)\n", err)
				continue
			}
			for _, g := range ix.Granules() {
				fmt.Printf("    granule rows=[%d,%d)  min=%v  max=%v\n",
					g.FirstRow, g.FirstRow+g.NumRows, g.Min, g.Max)
			}
		}
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"tessera"}`))
}

// triggerHandler serves manual merge triggers, optionally scoped to one
// table.
func triggerHandler(daemon *merge.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		table := r.URL.Query().Get("table")
		if table == "" {
			log.Printf("tessera: manual merge triggered (full cycle)")
			go daemon.RunOnce(context.Background())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"accepted","message":"Full merge cycle triggered"}`))
			return
		}

		log.Printf("tessera: manual merge triggered for table=%s", table)
		go func() {
			if err := daemon.TriggerMerge(context.Background(), table); err != nil {
				log.Printf("tessera: manual merge failed for %s: %v", table, err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(fmt.Sprintf(`{"status":"accepted","message":"Merge triggered for table=%s"}`, table)))
	}
}

// archiveHandler exports or restores a chunk through the cold tier.
func archiveHandler(archiver *archive.ChunkArchiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		idStr := r.URL.Query().Get("chunk")
		if idStr == "" {
			http.Error(w, "chunk query parameter is required", http.StatusBadRequest)
			return
		}
		id, err := types.ParseChunkID(idStr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var opErr error
		action := r.URL.Query().Get("action")
		switch action {
		case "", "export":
			opErr = archiver.Archive(r.Context(), id)
		case "restore":
			opErr = archiver.Restore(r.Context(), id)
		default:
			http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
			return
		}
		if opErr != nil {
			http.Error(w, opErr.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fmt.Sprintf(`{"status":"ok","chunk":"%s"}`, id)))
	}
}
