package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/kiyohachi/matching-app/app/config"
)

var engine *Engine

// MustInitDB wires the package engine and panics/logs fatally on error.
// With POSTGRES_URL set it connects to Postgres; otherwise it falls back to
// the in-memory store so local runs work without a database.
func MustInitDB() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.DB.URL == "" {
		log.Println("POSTGRES_URL not set; using in-memory store")
		engine = NewEngine(NewMemoryStore())
		initNotifier(cfg.QueueURL)
		return
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.URL,
		cfg.DB.Port,
		cfg.DB.Name,
	)

	d, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("sql.Open: %v", err)
	}

	if err := d.Ping(); err != nil {
		log.Fatalf("db.Ping: %v", err)
	}

	log.Println("Connected to Postgres")
	engine = NewEngine(NewPostgresStore(d))
	initNotifier(cfg.QueueURL)
}

// initNotifier attaches the SQS match notifier when a queue is configured.
// Failing to reach AWS is logged, not fatal: matching works without it.
func initNotifier(queueURL string) {
	if queueURL == "" {
		return
	}
	notifier, err := NewSQSNotifier(context.Background(), queueURL)
	if err != nil {
		log.Printf("failed to init SQS notifier; match events disabled: %v", err)
		return
	}
	engine.Notifier = notifier
}
