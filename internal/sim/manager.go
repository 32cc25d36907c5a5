// Package sim drives the catalog's buses along their route polylines and
// reports their positions as if they came from driver devices. It exists for
// demos and load testing.
package sim

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/live"
)

type Reporter interface {
	ReportLocation(busID string, lat, lon float64) (live.LiveLocation, error)
}

type Metrics interface {
	SimulatedBusesSet(n int)
}

type Manager struct {
	catalog         *catalog.Catalog
	reporter        Reporter
	publishInterval time.Duration
	speedMps        float64
	speedMultiplier float64
	metrics         Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc // busID -> cancel
	wg      sync.WaitGroup
}

func NewManager(c *catalog.Catalog, r Reporter, publishInterval time.Duration, speedMps, speedMultiplier float64, m Metrics) *Manager {
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	return &Manager{
		catalog:         c,
		reporter:        r,
		publishInterval: publishInterval,
		speedMps:        speedMps,
		speedMultiplier: speedMultiplier,
		metrics:         m,
		running:         make(map[string]context.CancelFunc),
	}
}

// Start launches one goroutine per bus that has a route assigned.
func (m *Manager) Start(ctx context.Context) {
	for i, b := range m.catalog.Buses() {
		if b.CurrentRouteID == "" {
			continue
		}
		route, err := m.catalog.Route(b.CurrentRouteID)
		if err != nil {
			log.Printf("sim skip bus %s: %v", b.BusID, err)
			continue
		}
		// Spread buses sharing a route so they do not overlap.
		m.startBus(ctx, b.BusID, route, float64(i)*500)
	}
}

func (m *Manager) startBus(parent context.Context, busID string, route catalog.Route, offset float64) {
	m.mu.Lock()
	if _, exists := m.running[busID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[busID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.SimulatedBusesSet(len(m.running))
	}
	m.mu.Unlock()

	log.Printf("sim starting bus %s on route %s", busID, route.RouteID)
	go func() {
		defer m.wg.Done()
		m.runBus(ctx, busID, route, offset)
		m.mu.Lock()
		delete(m.running, busID)
		if m.metrics != nil {
			m.metrics.SimulatedBusesSet(len(m.running))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runBus(ctx context.Context, busID string, route catalog.Route, offset float64) {
	cum := geo.CumulativeDistances(route.Polyline)
	total := cum[len(cum)-1]
	if total == 0 {
		return
	}

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			travelled := offset + now.Sub(start).Seconds()*m.speedMps*m.speedMultiplier
			p := geo.Interpolate(route.Polyline, cum, shuttle(travelled, total))
			if _, err := m.reporter.ReportLocation(busID, p.Lat, p.Lon); err != nil {
				log.Printf("sim report error for %s: %v", busID, err)
			}
		}
	}
}

// shuttle maps an unbounded travelled distance onto a route of length total
// driven end to end and back again.
func shuttle(travelled, total float64) float64 {
	if total <= 0 || travelled <= 0 {
		return 0
	}
	d := math.Mod(travelled, 2*total)
	if d > total {
		d = 2*total - d
	}
	return d
}

func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Stop cancels every bus goroutine and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
