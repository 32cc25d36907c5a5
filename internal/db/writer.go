package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/live"
	"bus-tracker/internal/notify"
)

type WriterMetrics interface {
	LocationWritten(err error)
}

// LocationWriter persists broadcast location updates. Write failures are
// logged and counted; the in-memory store is already committed.
type LocationWriter struct {
	db      *sql.DB
	timeout time.Duration
	metrics WriterMetrics
}

func NewLocationWriter(db *sql.DB, m WriterMetrics) *LocationWriter {
	return &LocationWriter{db: db, timeout: 5 * time.Second, metrics: m}
}

// Run writes every event from sub until ctx is done or sub closes.
func (w *LocationWriter) Run(ctx context.Context, sub *notify.Subscription) {
	sub.Each(ctx, func(ev notify.Event) {
		wctx, cancel := context.WithTimeout(ctx, w.timeout)
		err := UpsertLocation(wctx, w.db, live.LiveLocation{
			BusID:     ev.BusID,
			Position:  geo.Point{Lat: ev.Latitude, Lon: ev.Longitude},
			Timestamp: ev.Timestamp,
		})
		cancel()
		if err != nil {
			log.Printf("persist location bus=%s: %v", ev.BusID, err)
		}
		if w.metrics != nil {
			w.metrics.LocationWritten(err)
		}
	})
}
