// Package eta estimates bus arrival times at stops.
package eta

import (
	"errors"
	"fmt"
	"math"
	"time"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/catalog"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/live"
)

// DefaultSpeedMps is roughly 20 km/h.
const DefaultSpeedMps = 5.56

var (
	ErrLocationUnavailable = apperr.New("bus live location unavailable", apperr.ErrNotFound)
	ErrRouteUnassigned     = apperr.New("bus is not assigned to a valid route", apperr.ErrNotFound)
	ErrStopNotOnRoute      = apperr.New("destination stop is not on the bus's current route", apperr.ErrNotFound)
)

// Catalog is the subset of the catalog the estimator reads.
type Catalog interface {
	Bus(busID string) (catalog.Bus, error)
	Route(routeID string) (catalog.Route, error)
	StopsForRoute(routeID string) ([]catalog.RouteStopView, error)
}

// Locations resolves live positions.
type Locations interface {
	Get(busID string) (live.LiveLocation, error)
}

type Estimate struct {
	BusID             string    `json:"bus_id"`
	DestinationStopID string    `json:"destination_stop_id"`
	DistanceMeters    float64   `json:"distance_meters"`
	Minutes           int       `json:"estimated_arrival_time_minutes"`
	Text              string    `json:"estimated_arrival_time_text"`
	SpeedMps          float64   `json:"average_speed_mps"`
	LocationTime      time.Time `json:"location_timestamp"`
}

type Progress struct {
	BusID          string  `json:"bus_id"`
	RouteID        string  `json:"route_id"`
	DistanceAlongM float64 `json:"distance_along_meters"`
	RouteLengthM   float64 `json:"route_length_meters"`
	Fraction       float64 `json:"progress"`
	BearingDeg     float64 `json:"bearing"`
}

type Estimator struct {
	catalog   Catalog
	locations Locations
	speedMps  float64
}

// New returns an estimator assuming a constant average speed. A non-positive
// speed selects DefaultSpeedMps.
func New(c Catalog, l Locations, speedMps float64) *Estimator {
	if speedMps <= 0 || math.IsNaN(speedMps) || math.IsInf(speedMps, 0) {
		speedMps = DefaultSpeedMps
	}
	return &Estimator{catalog: c, locations: l, speedMps: speedMps}
}

func (e *Estimator) SpeedMps() float64 { return e.speedMps }

// EstimateArrival returns the straight-line distance from the bus's last
// reported position to the stop and the minutes needed at the average speed.
// It does not know whether the bus has already passed the stop or is heading
// away from it.
func (e *Estimator) EstimateArrival(busID, stopID string) (Estimate, error) {
	loc, err := e.locations.Get(busID)
	if err != nil {
		if errors.Is(err, live.ErrLocationNotFound) {
			return Estimate{}, fmt.Errorf("bus %q: %w", busID, ErrLocationUnavailable)
		}
		return Estimate{}, err
	}
	route, err := e.assignedRoute(busID)
	if err != nil {
		return Estimate{}, err
	}

	seq, err := e.catalog.StopsForRoute(route.RouteID)
	if err != nil && !errors.Is(err, catalog.ErrRouteNotFound) {
		return Estimate{}, err
	}
	var dest *catalog.RouteStopView
	for i := range seq {
		if seq[i].StopID == stopID {
			dest = &seq[i]
			break
		}
	}
	if dest == nil {
		return Estimate{}, fmt.Errorf("stop %q on route %q: %w", stopID, route.RouteID, ErrStopNotOnRoute)
	}

	dist := geo.Distance(loc.Position, dest.Location)
	minutes := int(math.Ceil(dist / e.speedMps / 60))
	return Estimate{
		BusID:             busID,
		DestinationStopID: stopID,
		DistanceMeters:    dist,
		Minutes:           minutes,
		Text:              fmt.Sprintf("%d minutes", minutes),
		SpeedMps:          e.speedMps,
		LocationTime:      loc.Timestamp,
	}, nil
}

// Progress projects the bus's last position onto its route polyline.
func (e *Estimator) Progress(busID string) (Progress, error) {
	loc, err := e.locations.Get(busID)
	if err != nil {
		if errors.Is(err, live.ErrLocationNotFound) {
			return Progress{}, fmt.Errorf("bus %q: %w", busID, ErrLocationUnavailable)
		}
		return Progress{}, err
	}
	route, err := e.assignedRoute(busID)
	if err != nil {
		return Progress{}, err
	}

	if len(route.Polyline) < 2 {
		return Progress{}, fmt.Errorf("route %q has no polyline: %w", route.RouteID, ErrRouteUnassigned)
	}
	cum := geo.CumulativeDistances(route.Polyline)
	total := cum[len(cum)-1]
	along := geo.NearestDistanceAlong(route.Polyline, cum, loc.Position)
	p := Progress{
		BusID:          busID,
		RouteID:        route.RouteID,
		DistanceAlongM: along,
		RouteLengthM:   total,
		BearingDeg:     geo.SegmentBearing(route.Polyline, cum, along),
	}
	if total > 0 {
		p.Fraction = along / total
	}
	return p, nil
}

func (e *Estimator) assignedRoute(busID string) (catalog.Route, error) {
	bus, err := e.catalog.Bus(busID)
	if err != nil {
		if errors.Is(err, catalog.ErrBusNotFound) {
			return catalog.Route{}, fmt.Errorf("bus %q unknown: %w", busID, ErrRouteUnassigned)
		}
		return catalog.Route{}, err
	}
	if bus.CurrentRouteID == "" {
		return catalog.Route{}, fmt.Errorf("bus %q: %w", busID, ErrRouteUnassigned)
	}
	route, err := e.catalog.Route(bus.CurrentRouteID)
	if err != nil {
		return catalog.Route{}, fmt.Errorf("bus %q route %q: %w", busID, bus.CurrentRouteID, ErrRouteUnassigned)
	}
	return route, nil
}
