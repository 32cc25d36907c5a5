// Package api exposes the tracker over HTTP and WebSocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/commute"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/live"
	"bus-tracker/internal/notify"
)

// Tracker is the query and reporting surface the handlers call.
type Tracker interface {
	ReportLocation(busID string, lat, lon float64) (live.LiveLocation, error)
	ListRoutes() []catalog.Route
	ListStopsForRoute(routeID string) ([]catalog.RouteStopView, error)
	GetStop(stopID string) (catalog.Stop, error)
	ListBuses() []catalog.Bus
	GetBus(busID string) (catalog.Bus, error)
	AssignRoute(ctx context.Context, busID, routeID string) (catalog.Bus, error)
	GetLiveLocation(busID string) (live.LiveLocation, error)
	LiveLocations() []live.LiveLocation
	GetDepartureTime(busID, originStopID string) (catalog.TimeOfDay, error)
	EstimateArrival(busID, stopID string) (eta.Estimate, error)
	Progress(busID string) (eta.Progress, error)
}

type Subscriber interface {
	Subscribe(name string) (*notify.Subscription, error)
}

// CommuteLog is the per-user trip log behind /api/map/bus_log.
type CommuteLog interface {
	Record(ctx context.Context, userID string, trip commute.Trip) (commute.Log, error)
	Today(ctx context.Context, userID string) (commute.Log, error)
}

type Options struct {
	Tracker  Tracker
	Notifier Subscriber
	// Commute may be nil, in which case the bus_log routes answer 503.
	Commute        CommuteLog
	AllowedOrigins []string
}

type Server struct {
	tracker  Tracker
	notifier Subscriber
	commute  CommuteLog
	feed     *feed.Builder
	started  time.Time
}

// NewRouter builds the chi router with every endpoint mounted.
func NewRouter(o Options) http.Handler {
	s := &Server{
		tracker:  o.Tracker,
		notifier: o.Notifier,
		commute:  o.Commute,
		feed:     feed.NewBuilder(o.Tracker),
		started:  time.Now(),
	}
	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Get("/routes", s.listRoutes)
	r.Get("/routes/{routeID}/stops", s.listStopsForRoute)
	r.Get("/stops/{stopID}", s.getStop)

	r.Route("/buses", func(r chi.Router) {
		r.Get("/", s.listBuses)
		r.Post("/location-update", s.reportLocation)
		r.Get("/live-location/{busID}", s.getLiveLocation)
		r.Get("/eta/{busID}/{stopID}", s.estimateArrival)
		r.Get("/departure-time/{busID}/{stopID}", s.departureTime)
		r.Get("/progress/{busID}", s.progress)
		r.Get("/{busID}", s.getBus)
		r.Put("/{busID}/route", s.assignRoute)
	})

	r.Get("/ws", s.streamUpdates)
	r.Get("/gtfs-rt/vehicle-positions", s.vehiclePositions)

	r.Route("/api/map", func(r chi.Router) {
		r.Post("/bus_log", s.recordBusLog)
		r.Get("/bus_log/{userID}", s.getBusLog)
	})

	return r
}
