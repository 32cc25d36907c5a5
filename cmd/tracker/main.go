package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bus-tracker/internal/api"
	"bus-tracker/internal/catalog"
	"bus-tracker/internal/commute"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/live"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/sim"
	"bus-tracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.AverageSpeedMps)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	var sqlDB *sql.DB
	if cfg.NeedsDatabase() {
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		if err := db.Migrate(ctx, sqlDB); err != nil {
			log.Fatalf("db migrate error: %v", err)
		}
	}

	cat, err := loadCatalog(ctx, cfg, sqlDB)
	if err != nil {
		log.Fatalf("catalog error: %v", err)
	}
	log.Printf("catalog loaded source=%s routes=%d buses=%d", cfg.CatalogSource, len(cat.Routes()), len(cat.Buses()))

	notifier := notify.NewBroadcaster(cfg.SubscriberBuffer, notifyMetrics(mcol))
	store := live.NewStore(notifier)
	opts := []tracker.Option{tracker.WithMetrics(trackerMetrics(mcol))}
	if cfg.CatalogSource == config.CatalogPostgres {
		opts = append(opts, tracker.WithRouteStore(func(ctx context.Context, busID, routeID string) error {
			return db.UpdateBusRoute(ctx, sqlDB, busID, routeID)
		}))
	}
	svc := tracker.NewService(cat, store, eta.New(cat, store, cfg.AverageSpeedMps), opts...)

	var wg sync.WaitGroup

	// Warm start and write-behind persistence
	if cfg.PersistLocations {
		locs, err := db.LoadLiveLocations(ctx, sqlDB)
		if err != nil {
			log.Fatalf("load live locations error: %v", err)
		}
		log.Printf("restored %d live locations", store.Restore(locs))

		sub, err := notifier.Subscribe("postgres")
		if err != nil {
			log.Fatalf("subscribe postgres writer: %v", err)
		}
		w := db.NewLocationWriter(sqlDB, writerMetrics(mcol))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, sub)
		}()
	}

	// Relay every update onto NATS
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		sub, err := notifier.Subscribe("nats")
		if err != nil {
			log.Fatalf("subscribe nats relay: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Relay(ctx, sub)
		}()
	}

	var commuteLog api.CommuteLog
	if cfg.CommuteDBPath != "" {
		cs, err := commute.Open(ctx, cfg.CommuteDBPath, cfg.Location)
		if err != nil {
			log.Fatalf("commute store error: %v", err)
		}
		defer cs.Close()
		commuteLog = cs
	}

	if mcol != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trackBuses(ctx, store, mcol)
		}()
	}

	var mgr *sim.Manager
	if cfg.Simulate {
		mgr = sim.NewManager(cat, svc, cfg.PublishInterval, cfg.AverageSpeedMps, cfg.SpeedMultiplier, simMetrics(mcol))
		mgr.Start(ctx)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Options{
			Tracker:        svc,
			Notifier:       notifier,
			Commute:        commuteLog,
			AllowedOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()

	// Allow graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if mgr != nil {
		mgr.Stop()
	}
	// Closing the notifier ends websocket streams and subscriber loops.
	notifier.Close()
	wg.Wait()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

func loadCatalog(ctx context.Context, cfg *config.Config, sqlDB *sql.DB) (*catalog.Catalog, error) {
	switch cfg.CatalogSource {
	case config.CatalogYAML:
		d, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		return catalog.New(d)
	case config.CatalogPostgres:
		d, err := db.LoadCatalog(ctx, sqlDB)
		if err != nil {
			return nil, err
		}
		if len(d.Routes) == 0 && len(d.Buses) == 0 {
			log.Printf("postgres catalog is empty, seeding built-in data")
			d = catalog.Seed()
			if err := db.SaveCatalog(ctx, sqlDB, d); err != nil {
				return nil, err
			}
		}
		return catalog.New(d)
	default:
		return catalog.New(catalog.Seed())
	}
}

func trackBuses(ctx context.Context, store *live.Store, mcol *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		mcol.TrackedBusesSet(store.Len())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// The helpers below hand out nil interfaces when metrics are disabled so
// components can test for a nil Metrics.

func notifyMetrics(c *metrics.Collector) notify.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func trackerMetrics(c *metrics.Collector) tracker.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func writerMetrics(c *metrics.Collector) db.WriterMetrics {
	if c == nil {
		return nil
	}
	return c
}

func simMetrics(c *metrics.Collector) sim.Metrics {
	if c == nil {
		return nil
	}
	return c
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}
