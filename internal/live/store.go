// Package live keeps the most recent reported position of every bus.
package live

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/notify"
)

var (
	ErrInvalidIdentifier = apperr.New("invalid bus identifier", apperr.ErrInvalidInput)
	ErrLocationNotFound  = apperr.New("live location not found", apperr.ErrNotFound)
	ErrStaleReport       = apperr.New("report older than current location", apperr.ErrConflict)
)

type LiveLocation struct {
	BusID     string    `json:"bus_id"`
	Position  geo.Point `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// Event converts l to its broadcast form.
func (l LiveLocation) Event() notify.Event {
	return notify.Event{BusID: l.BusID, Latitude: l.Position.Lat, Longitude: l.Position.Lon, Timestamp: l.Timestamp}
}

// Publisher receives one event per committed upsert. Publish must not block.
type Publisher interface {
	Publish(ev notify.Event)
}

type entry struct {
	mu  sync.Mutex
	loc LiveLocation
	set bool
}

// Store maps bus id to its latest location. Writers for the same bus are
// serialized on a per-bus mutex; the map lock is only held to find or create
// that mutex, so writers for different buses do not contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	pub     Publisher
}

// NewStore returns an empty store. pub may be nil.
func NewStore(pub Publisher) *Store {
	return &Store{entries: make(map[string]*entry), pub: pub}
}

// Upsert records pos as the location of busID at ts and publishes the new
// record. A report older than the stored one is rejected with ErrStaleReport.
func (s *Store) Upsert(busID string, pos geo.Point, ts time.Time) (LiveLocation, error) {
	if err := validate(busID, pos); err != nil {
		return LiveLocation{}, err
	}

	e := s.entry(busID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set && ts.Before(e.loc.Timestamp) {
		return e.loc, fmt.Errorf("bus %q at %s, have %s: %w",
			busID, ts.Format(time.RFC3339Nano), e.loc.Timestamp.Format(time.RFC3339Nano), ErrStaleReport)
	}
	return s.commit(e, busID, pos, ts), nil
}

// Report records pos as the location of busID stamped by now, which is read
// while holding the bus lock. The stamp never goes below the stored one, so
// concurrent reports and wall-clock steps back never fail as stale.
func (s *Store) Report(busID string, pos geo.Point, now func() time.Time) (LiveLocation, error) {
	if err := validate(busID, pos); err != nil {
		return LiveLocation{}, err
	}

	e := s.entry(busID)
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := now()
	if e.set && ts.Before(e.loc.Timestamp) {
		ts = e.loc.Timestamp
	}
	return s.commit(e, busID, pos, ts), nil
}

// commit stores the record and publishes it. e.mu must be held.
func (s *Store) commit(e *entry, busID string, pos geo.Point, ts time.Time) LiveLocation {
	e.loc = LiveLocation{BusID: busID, Position: pos, Timestamp: ts}
	e.set = true
	// Enqueue while holding the bus lock so events for one bus leave in
	// commit order. Publish only enqueues; delivery happens elsewhere.
	if s.pub != nil {
		s.pub.Publish(e.loc.Event())
	}
	return e.loc
}

func validate(busID string, pos geo.Point) error {
	if strings.TrimSpace(busID) == "" {
		return ErrInvalidIdentifier
	}
	return pos.Validate()
}

func (s *Store) Get(busID string) (LiveLocation, error) {
	s.mu.RLock()
	e, ok := s.entries[busID]
	s.mu.RUnlock()
	if !ok {
		return LiveLocation{}, fmt.Errorf("bus %q: %w", busID, ErrLocationNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return LiveLocation{}, fmt.Errorf("bus %q: %w", busID, ErrLocationNotFound)
	}
	return e.loc, nil
}

// All returns a snapshot of every location, sorted by bus id.
func (s *Store) All() []LiveLocation {
	s.mu.RLock()
	es := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		es = append(es, e)
	}
	s.mu.RUnlock()

	out := make([]LiveLocation, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		if e.set {
			out = append(out, e.loc)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Restore loads previously persisted locations without publishing them.
// Records that are invalid or older than what the store holds are skipped.
// It returns the number of records applied.
func (s *Store) Restore(locs []LiveLocation) int {
	n := 0
	for _, l := range locs {
		if strings.TrimSpace(l.BusID) == "" || l.Position.Validate() != nil {
			continue
		}
		e := s.entry(l.BusID)
		e.mu.Lock()
		if !e.set || !l.Timestamp.Before(e.loc.Timestamp) {
			e.loc, e.set = l, true
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (s *Store) entry(busID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[busID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[busID]; !ok {
		e = &entry{}
		s.entries[busID] = e
	}
	return e
}
