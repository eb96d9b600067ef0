package ingest

import (
	"context"
	"log/slog"
	"time"

	"bookbazaar/pkg/domain"
	"bookbazaar/pkg/mq"
	"bookbazaar/pkg/store"
)

// Runner drives batch ingestion of inventory sources.
type Runner struct {
	store  store.Store
	events *mq.Publisher
}

// NewRunner wires the runner; events may be nil.
func NewRunner(st store.Store, events *mq.Publisher) *Runner {
	return &Runner{store: st, events: events}
}

// Summary reports what one ingestion run accomplished.
type Summary struct {
	SourcesProcessed int
	SourcesFailed    int
	RowsInserted     int
}

// Run ingests each source in turn. A failing source is logged and
// skipped; the remaining sources still run.
func (r *Runner) Run(ctx context.Context, sources []Source) Summary {
	var sum Summary
	for _, src := range sources {
		rows, err := src.Rows()
		if err != nil {
			slog.Error("ingest source failed", "source", src.Name(), "err", err)
			sum.SourcesFailed++
			continue
		}
		if len(rows) == 0 {
			slog.Info("ingest source empty", "source", src.Name())
			sum.SourcesProcessed++
			continue
		}
		now := time.Now().UTC()
		docs := make([]domain.Listing, 0, len(rows))
		for _, row := range rows {
			docs = append(docs, BuildDocument(row, src.Name(), now))
		}
		ids, err := r.store.InsertListings(docs)
		if err != nil {
			slog.Error("ingest insert failed", "source", src.Name(), "rows", len(docs), "err", err)
			sum.SourcesFailed++
			continue
		}
		sum.SourcesProcessed++
		sum.RowsInserted += len(ids)
		slog.Info("ingest source done", "source", src.Name(), "inserted", len(ids))
		r.publishBatch(ctx, src.Name(), len(ids))
	}
	return sum
}

func (r *Runner) publishBatch(ctx context.Context, source string, count int) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	payload := map[string]any{"source": source, "count": count}
	if err := r.events.PublishJSON(ctx, mq.KeyListingIngested, payload); err != nil {
		slog.Warn("publish ingest event failed", "source", source, "err", err)
	}
}
