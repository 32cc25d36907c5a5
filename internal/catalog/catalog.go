// Package catalog holds the reference data for routes, stops, their
// associations and the bus fleet. Everything except bus route assignments is
// immutable once New returns.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/geo"
)

var (
	ErrRouteNotFound = apperr.New("route not found", apperr.ErrNotFound)
	ErrStopNotFound  = apperr.New("stop not found", apperr.ErrNotFound)
	ErrBusNotFound   = apperr.New("bus not found", apperr.ErrNotFound)
)

// Data is the raw catalog as produced by a loader.
type Data struct {
	Routes     []Route
	Stops      []Stop
	RouteStops []RouteStop
	Buses      []Bus
}

type Catalog struct {
	routes     []Route
	routeIdx   map[string]int
	stops      map[string]Stop
	routeStops map[string][]RouteStop // route_id -> sorted by OrderInRoute

	mu       sync.RWMutex
	buses    map[string]Bus
	busOrder []string
}

// New validates d and builds the lookup indexes.
func New(d Data) (*Catalog, error) {
	c := &Catalog{
		routeIdx:   make(map[string]int, len(d.Routes)),
		stops:      make(map[string]Stop, len(d.Stops)),
		routeStops: make(map[string][]RouteStop),
		buses:      make(map[string]Bus, len(d.Buses)),
	}

	for _, s := range d.Stops {
		if strings.TrimSpace(s.StopID) == "" {
			return nil, errors.New("stop with empty stop_id")
		}
		if _, dup := c.stops[s.StopID]; dup {
			return nil, fmt.Errorf("duplicate stop %q", s.StopID)
		}
		if err := s.Location.Validate(); err != nil {
			return nil, fmt.Errorf("stop %q: %w", s.StopID, err)
		}
		c.stops[s.StopID] = s
	}

	for _, r := range d.Routes {
		if strings.TrimSpace(r.RouteID) == "" {
			return nil, errors.New("route with empty route_id")
		}
		if _, dup := c.routeIdx[r.RouteID]; dup {
			return nil, fmt.Errorf("duplicate route %q", r.RouteID)
		}
		if len(r.Polyline) < 2 {
			return nil, fmt.Errorf("route %q: polyline needs at least 2 points, got %d", r.RouteID, len(r.Polyline))
		}
		for i, p := range r.Polyline {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("route %q point %d: %w", r.RouteID, i, err)
			}
		}
		r.Polyline = append([]geo.Point(nil), r.Polyline...)
		c.routeIdx[r.RouteID] = len(c.routes)
		c.routes = append(c.routes, r)
	}

	for _, rs := range d.RouteStops {
		if _, ok := c.routeIdx[rs.RouteID]; !ok {
			return nil, fmt.Errorf("route_stop references unknown route %q", rs.RouteID)
		}
		if _, ok := c.stops[rs.StopID]; !ok {
			return nil, fmt.Errorf("route_stop on %q references unknown stop %q", rs.RouteID, rs.StopID)
		}
		if rs.ScheduledDeparture < rs.ScheduledArrival {
			return nil, fmt.Errorf("route %q stop %q: departure %s before arrival %s",
				rs.RouteID, rs.StopID, rs.ScheduledDeparture, rs.ScheduledArrival)
		}
		c.routeStops[rs.RouteID] = append(c.routeStops[rs.RouteID], rs)
	}
	for routeID, seq := range c.routeStops {
		sort.SliceStable(seq, func(i, j int) bool { return seq[i].OrderInRoute < seq[j].OrderInRoute })
		for i, rs := range seq {
			if rs.OrderInRoute != i+1 {
				return nil, fmt.Errorf("route %q: order_in_route must run 1..%d without gaps, found %d at position %d",
					routeID, len(seq), rs.OrderInRoute, i+1)
			}
		}
	}

	for _, b := range d.Buses {
		if strings.TrimSpace(b.BusID) == "" {
			return nil, errors.New("bus with empty bus_id")
		}
		if _, dup := c.buses[b.BusID]; dup {
			return nil, fmt.Errorf("duplicate bus %q", b.BusID)
		}
		if b.Capacity <= 0 {
			return nil, fmt.Errorf("bus %q: capacity must be positive, got %d", b.BusID, b.Capacity)
		}
		if b.CurrentRouteID != "" {
			if _, ok := c.routeIdx[b.CurrentRouteID]; !ok {
				return nil, fmt.Errorf("bus %q assigned to unknown route %q", b.BusID, b.CurrentRouteID)
			}
		}
		c.buses[b.BusID] = b
		c.busOrder = append(c.busOrder, b.BusID)
	}
	return c, nil
}

// Routes returns all routes in load order.
func (c *Catalog) Routes() []Route {
	out := make([]Route, len(c.routes))
	copy(out, c.routes)
	return out
}

func (c *Catalog) Route(routeID string) (Route, error) {
	i, ok := c.routeIdx[routeID]
	if !ok {
		return Route{}, fmt.Errorf("route %q: %w", routeID, ErrRouteNotFound)
	}
	return c.routes[i], nil
}

func (c *Catalog) Stop(stopID string) (Stop, error) {
	s, ok := c.stops[stopID]
	if !ok {
		return Stop{}, fmt.Errorf("stop %q: %w", stopID, ErrStopNotFound)
	}
	return s, nil
}

// StopsForRoute returns the route's stops in ascending order_in_route.
// A route with no stops is reported as not found.
func (c *Catalog) StopsForRoute(routeID string) ([]RouteStopView, error) {
	seq := c.routeStops[routeID]
	if len(seq) == 0 {
		return nil, fmt.Errorf("stops for route %q: %w", routeID, ErrRouteNotFound)
	}
	out := make([]RouteStopView, 0, len(seq))
	for _, rs := range seq {
		out = append(out, RouteStopView{
			Stop:               c.stops[rs.StopID],
			OrderInRoute:       rs.OrderInRoute,
			ScheduledArrival:   rs.ScheduledArrival,
			ScheduledDeparture: rs.ScheduledDeparture,
		})
	}
	return out, nil
}

// RouteStop returns the association of stopID with routeID, if any.
func (c *Catalog) RouteStop(routeID, stopID string) (RouteStop, bool) {
	for _, rs := range c.routeStops[routeID] {
		if rs.StopID == stopID {
			return rs, true
		}
	}
	return RouteStop{}, false
}

func (c *Catalog) Bus(busID string) (Bus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.buses[busID]
	if !ok {
		return Bus{}, fmt.Errorf("bus %q: %w", busID, ErrBusNotFound)
	}
	return b, nil
}

// Buses returns the fleet in load order.
func (c *Catalog) Buses() []Bus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Bus, 0, len(c.busOrder))
	for _, id := range c.busOrder {
		out = append(out, c.buses[id])
	}
	return out
}

// AssignRoute sets the bus's current route. An empty routeID unassigns it.
func (c *Catalog) AssignRoute(busID, routeID string) (Bus, error) {
	if routeID != "" {
		if _, ok := c.routeIdx[routeID]; !ok {
			return Bus{}, fmt.Errorf("route %q: %w", routeID, ErrRouteNotFound)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buses[busID]
	if !ok {
		return Bus{}, fmt.Errorf("bus %q: %w", busID, ErrBusNotFound)
	}
	b.CurrentRouteID = routeID
	c.buses[busID] = b
	return b, nil
}
