package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/config"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/govern"
	"gatepass.org/internal/httpapi"
	"gatepass.org/internal/lifecycle"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/passes"
	"gatepass.org/internal/store/memory"
	"gatepass.org/internal/store/pg"
	"gatepass.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Хранилище: Postgres при заданном DSN, иначе in-memory для локальной
	// разработки.
	var (
		db         *sql.DB
		dirStore   directory.Store
		passStore  passes.Store
		auditTrail audit.Trail
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		dirStore, passStore, auditTrail = store, store, store
	} else {
		log.Println("GATEPASS_PG_DSN is empty, using in-memory store")
		mem := memory.New()
		dirStore, passStore, auditTrail = mem, mem, mem
	}

	dir := directory.NewService(dirStore)
	reg := passes.NewRegistry(passStore, dir, passes.WithMaxActive(cfg.MaxActivePasses))
	hub := stream.New()

	gov := govern.New(map[string]govern.Quota{
		lifecycle.ClassRegister:   govern.Quota(cfg.QuotaRegister),
		lifecycle.ClassModerate:   govern.Quota(cfg.QuotaModerate),
		lifecycle.ClassPassIssue:  govern.Quota(cfg.QuotaPassIssue),
		lifecycle.ClassPassUse:    govern.Quota(cfg.QuotaPassUse),
		lifecycle.ClassPassCancel: govern.Quota(cfg.QuotaPassCancel),
		lifecycle.ClassSearch:     govern.Quota(cfg.QuotaSearch),
	})

	facade := lifecycle.New(dir, reg, auditTrail, gov, hub,
		lifecycle.WithStoreTimeout(cfg.StoreTimeout))

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, facade, hub)
	api.SetRateLimit(cfg.HTTPRateBurst, cfg.HTTPRatePerSec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatepass-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
