package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bookbazaar/internal/config"
	"bookbazaar/internal/ingest"
	"bookbazaar/internal/util"
	"bookbazaar/pkg/mq"
	"bookbazaar/pkg/store"
)

// Arguments are CSV exports, either "source-name=path" or a bare path
// (the source name then defaults to the file name without extension).
func main() {
	configPath := flag.String("config", config.ConfigPath, "path to config file")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("usage: ingest [-config config.yaml] [name=]export.csv ...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		log.Fatal("databaseURL is required for ingestion")
	}
	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	var events *mq.Publisher
	if cfg.AMQPURL != "" {
		events, err = mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer events.Close()
	}

	sources := make([]ingest.Source, 0, flag.NArg())
	for _, arg := range flag.Args() {
		name, path, found := strings.Cut(arg, "=")
		if !found {
			path = arg
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		sources = append(sources, ingest.NewCSVSource(name, path))
	}

	sum := ingest.NewRunner(dataStore, events).Run(context.Background(), sources)
	slog.Info("ingestion finished",
		"sources_processed", sum.SourcesProcessed,
		"sources_failed", sum.SourcesFailed,
		"rows_inserted", sum.RowsInserted,
	)
	if sum.SourcesProcessed == 0 && sum.SourcesFailed > 0 {
		os.Exit(1)
	}
}
