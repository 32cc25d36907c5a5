package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	LocationReports *prometheus.CounterVec // result label: ok|invalid|conflict|...
	Estimates       *prometheus.CounterVec // result label
	TrackedBuses    prometheus.Gauge

	EventsPublished prometheus.Counter
	EventsDropped   *prometheus.CounterVec // subscriber label
	Subscribers     prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	DBWrites    prometheus.Counter
	DBWriteErrs prometheus.Counter

	AverageSpeed   prometheus.Gauge
	SimulatedBuses prometheus.Gauge
}

func NewCollector(averageSpeedMps float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		LocationReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_location_reports_total",
			Help: "Location reports received, by result.",
		}, []string{"result"}),
		Estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_eta_requests_total",
			Help: "ETA estimates served, by result.",
		}, []string{"result"}),
		TrackedBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tracked_buses",
			Help: "Buses with a live location.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_events_published_total",
			Help: "Location update events broadcast.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, []string{"subscriber"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_subscribers",
			Help: "Current number of event subscribers.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_nats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		DBWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_db_location_writes_total",
			Help: "Live locations persisted to Postgres.",
		}),
		DBWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_db_location_write_errors_total",
			Help: "Failed live location writes.",
		}),
		AverageSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_eta_average_speed_mps",
			Help: "Average bus speed assumed by the ETA estimator.",
		}),
		SimulatedBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_simulated_buses",
			Help: "Buses currently driven by the simulator.",
		}),
	}

	reg.MustRegister(
		c.LocationReports, c.Estimates, c.TrackedBuses,
		c.EventsPublished, c.EventsDropped, c.Subscribers,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.DBWrites, c.DBWriteErrs, c.AverageSpeed, c.SimulatedBuses,
	)

	c.AverageSpeed.Set(averageSpeedMps)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// The methods below let the collector stand in for the small metrics
// interfaces declared by the notify, tracker, publisher, sim and db packages.

func (c *Collector) EventPublished()         { c.EventsPublished.Inc() }
func (c *Collector) EventDropped(sub string) { c.EventsDropped.WithLabelValues(sub).Inc() }
func (c *Collector) SubscribersSet(n int)    { c.Subscribers.Set(float64(n)) }

func (c *Collector) LocationReported(result string) { c.LocationReports.WithLabelValues(result).Inc() }
func (c *Collector) EstimateServed(result string)   { c.Estimates.WithLabelValues(result).Inc() }
func (c *Collector) TrackedBusesSet(n int)          { c.TrackedBuses.Set(float64(n)) }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) SimulatedBusesSet(n int) { c.SimulatedBuses.Set(float64(n)) }

func (c *Collector) LocationWritten(err error) {
	if err != nil {
		c.DBWriteErrs.Inc()
		return
	}
	c.DBWrites.Inc()
}
