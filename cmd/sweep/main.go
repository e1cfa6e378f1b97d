package main

import (
	"context"
	"flag"
	"log"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/config"
	"gatepass.org/internal/store/pg"
)

// sweep запускается по расписанию (cron) и архивирует истёкшие пропуска.
func main() {
	log.SetFlags(0)
	retention := flag.Duration("retention", 0, "override GATEPASS_RETENTION_WINDOW")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("GATEPASS_PG_DSN is required")
	}
	window := cfg.RetentionWindow
	if *retention > 0 {
		window = *retention
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-window)
	evt := audit.NewEvent("", audit.ActionPassArchiveSweep, audit.TargetPass, "sweep", map[string]string{
		"cutoff": cutoff.Format(time.RFC3339),
	})
	n, err := store.ArchivePassesBefore(ctx, cutoff, evt)
	if err != nil {
		log.Fatalf("archive passes: %v", err)
	}
	log.Printf("archived %d passes older than %s", n, window)
}
