// Package tracker is the query and reporting surface over the catalog, the
// live location store and the ETA estimator.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/catalog"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/live"
)

var ErrDepartureNotFound = apperr.New("departure time not found for this bus at this origin stop", apperr.ErrNotFound)

// Metrics is notified of every report and estimate outcome.
type Metrics interface {
	LocationReported(result string)
	EstimateServed(result string)
}

// SaveRouteFunc persists a route assignment. An empty routeID unassigns.
type SaveRouteFunc func(ctx context.Context, busID, routeID string) error

type Service struct {
	catalog   *catalog.Catalog
	locations *live.Store
	estimator *eta.Estimator
	metrics   Metrics
	now       func() time.Time

	assignMu  sync.Mutex
	saveRoute SaveRouteFunc
}

type Option func(*Service)

// WithClock overrides the clock used to stamp reported locations.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithRouteStore writes every route assignment through save before it is
// reported as done.
func WithRouteStore(save SaveRouteFunc) Option { return func(s *Service) { s.saveRoute = save } }

func NewService(c *catalog.Catalog, l *live.Store, e *eta.Estimator, opts ...Option) *Service {
	s := &Service{catalog: c, locations: l, estimator: e, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReportLocation records a GPS fix from a driver device, stamped with the
// service clock, and broadcasts it. It only fails on invalid input.
func (s *Service) ReportLocation(busID string, lat, lon float64) (live.LiveLocation, error) {
	loc, err := s.locations.Report(busID, geo.Point{Lat: lat, Lon: lon}, func() time.Time { return s.now().UTC() })
	if s.metrics != nil {
		s.metrics.LocationReported(resultLabel(err))
	}
	return loc, err
}

func (s *Service) ListRoutes() []catalog.Route { return s.catalog.Routes() }

func (s *Service) ListStopsForRoute(routeID string) ([]catalog.RouteStopView, error) {
	return s.catalog.StopsForRoute(routeID)
}

func (s *Service) GetStop(stopID string) (catalog.Stop, error) { return s.catalog.Stop(stopID) }

func (s *Service) ListBuses() []catalog.Bus { return s.catalog.Buses() }

func (s *Service) GetBus(busID string) (catalog.Bus, error) { return s.catalog.Bus(busID) }

// AssignRoute sets the bus's current route. With a route store configured the
// in-memory assignment is rolled back when the write fails.
func (s *Service) AssignRoute(ctx context.Context, busID, routeID string) (catalog.Bus, error) {
	if s.saveRoute == nil {
		return s.catalog.AssignRoute(busID, routeID)
	}
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	prev, err := s.catalog.Bus(busID)
	if err != nil {
		return catalog.Bus{}, err
	}
	bus, err := s.catalog.AssignRoute(busID, routeID)
	if err != nil {
		return catalog.Bus{}, err
	}
	if err := s.saveRoute(ctx, busID, routeID); err != nil {
		if _, rerr := s.catalog.AssignRoute(busID, prev.CurrentRouteID); rerr != nil {
			return catalog.Bus{}, errors.Join(fmt.Errorf("persist route assignment: %w", err), rerr)
		}
		return catalog.Bus{}, fmt.Errorf("persist route assignment: %w", err)
	}
	return bus, nil
}

func (s *Service) GetLiveLocation(busID string) (live.LiveLocation, error) {
	return s.locations.Get(busID)
}

func (s *Service) LiveLocations() []live.LiveLocation { return s.locations.All() }

// GetDepartureTime returns the scheduled departure of the bus's current route
// from originStopID.
func (s *Service) GetDepartureTime(busID, originStopID string) (catalog.TimeOfDay, error) {
	bus, err := s.catalog.Bus(busID)
	if err != nil {
		return 0, fmt.Errorf("bus %q: %w", busID, ErrDepartureNotFound)
	}
	rs, ok := s.catalog.RouteStop(bus.CurrentRouteID, originStopID)
	if !ok {
		return 0, fmt.Errorf("bus %q at stop %q: %w", busID, originStopID, ErrDepartureNotFound)
	}
	return rs.ScheduledDeparture, nil
}

func (s *Service) EstimateArrival(busID, stopID string) (eta.Estimate, error) {
	est, err := s.estimator.EstimateArrival(busID, stopID)
	if s.metrics != nil {
		s.metrics.EstimateServed(resultLabel(err))
	}
	return est, err
}

func (s *Service) Progress(busID string) (eta.Progress, error) { return s.estimator.Progress(busID) }

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
