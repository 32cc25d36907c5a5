package live

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/notify"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

var (
	cbd = geo.Point{Lat: -1.286389, Lon: 36.817223}
	t0  = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
)

func TestUpsert_InsertThenGet(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	loc, err := s.Upsert("B001", cbd, t0)
	require.NoError(t, err)
	assert.Equal(t, LiveLocation{BusID: "B001", Position: cbd, Timestamp: t0}, loc)

	got, err := s.Get("B001")
	require.NoError(t, err)
	assert.Equal(t, loc, got)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, notify.Event{BusID: "B001", Latitude: cbd.Lat, Longitude: cbd.Lon, Timestamp: t0}, events[0])
}

func TestUpsert_RepeatedSameInputKeepsOneRecord(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	for i := 0; i < 5; i++ {
		_, err := s.Upsert("B001", cbd, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.Len())
	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, t0, all[0].Timestamp)
	assert.Len(t, rec.snapshot(), 5, "every successful upsert notifies once")
}

func TestUpsert_ReplacesWithNewer(t *testing.T) {
	s := NewStore(nil)
	p2 := geo.Point{Lat: -1.3, Lon: 36.83}

	_, err := s.Upsert("B001", cbd, t0)
	require.NoError(t, err)
	_, err = s.Upsert("B001", p2, t0.Add(time.Second))
	require.NoError(t, err)

	got, err := s.Get("B001")
	require.NoError(t, err)
	assert.Equal(t, p2, got.Position)
	assert.Equal(t, t0.Add(time.Second), got.Timestamp)
}

func TestUpsert_RejectsStaleReport(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	_, err := s.Upsert("B001", cbd, t0.Add(time.Minute))
	require.NoError(t, err)

	cur, err := s.Upsert("B001", geo.Point{Lat: 0, Lon: 0}, t0)
	assert.ErrorIs(t, err, ErrStaleReport)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, cbd, cur.Position)

	got, _ := s.Get("B001")
	assert.Equal(t, cbd, got.Position)
	assert.Len(t, rec.snapshot(), 1)
}

func TestUpsert_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		busID   string
		pos     geo.Point
		wantErr error
	}{
		{"latitude 91", "B001", geo.Point{Lat: 91, Lon: 0}, geo.ErrInvalidCoordinate},
		{"longitude -181", "B001", geo.Point{Lat: 0, Lon: -181}, geo.ErrInvalidCoordinate},
		{"empty id", "", cbd, ErrInvalidIdentifier},
		{"blank id", "   ", cbd, ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := NewStore(rec)
			_, err := s.Upsert(tt.busID, tt.pos, t0)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
			assert.Zero(t, s.Len())
			assert.Empty(t, rec.snapshot())
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Get("B404")
	assert.ErrorIs(t, err, ErrLocationNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpsert_ConcurrentSameBusKeepsLatest(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Upsert("B001", geo.Point{Lat: float64(i) / 10, Lon: 36}, t0.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	got, err := s.Get("B001")
	require.NoError(t, err)
	assert.Equal(t, t0.Add((n-1)*time.Millisecond), got.Timestamp)

	// Events for one bus are enqueued in commit order, so timestamps never go backwards.
	events := rec.snapshot()
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestUpsert_ConcurrentDifferentBuses(t *testing.T) {
	s := NewStore(&recorder{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("B%03d", i)
			for j := 0; j < 20; j++ {
				_, err := s.Upsert(id, cbd, t0.Add(time.Duration(j)*time.Second))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	all := s.All()
	require.Len(t, all, 50)
	assert.Equal(t, "B000", all[0].BusID)
	assert.Equal(t, "B049", all[49].BusID)
	for _, l := range all {
		assert.Equal(t, t0.Add(19*time.Second), l.Timestamp)
	}
}

func TestRestore(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	_, err := s.Upsert("B002", cbd, t0.Add(time.Hour))
	require.NoError(t, err)

	n := s.Restore([]LiveLocation{
		{BusID: "B001", Position: cbd, Timestamp: t0},
		{BusID: "B002", Position: geo.Point{}, Timestamp: t0}, // older than the live record
		{BusID: "", Position: cbd, Timestamp: t0},
		{BusID: "B003", Position: geo.Point{Lat: 100}, Timestamp: t0},
	})
	assert.Equal(t, 1, n)

	got, err := s.Get("B001")
	require.NoError(t, err)
	assert.Equal(t, t0, got.Timestamp)
	got, _ = s.Get("B002")
	assert.Equal(t, cbd, got.Position)
	_, err = s.Get("B003")
	assert.ErrorIs(t, err, ErrLocationNotFound)
	assert.Len(t, rec.snapshot(), 1, "restore must not publish")
}

func TestReport_ClockStepBackKeepsNewestStamp(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)
	clock := []time.Time{t0.Add(time.Second), t0}
	next := func() time.Time { ts := clock[0]; clock = clock[1:]; return ts }

	_, err := s.Report("B001", cbd, next)
	require.NoError(t, err)

	moved := geo.Point{Lat: -1.29, Lon: 36.82}
	loc, err := s.Report("B001", moved, next)
	require.NoError(t, err)
	assert.Equal(t, moved, loc.Position)
	assert.Equal(t, t0.Add(time.Second), loc.Timestamp)

	got, _ := s.Get("B001")
	assert.Equal(t, moved, got.Position)
	assert.Len(t, rec.snapshot(), 2)
}

func TestReport_InvalidInput(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Report(" ", cbd, time.Now)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = s.Report("B001", geo.Point{Lat: 91}, time.Now)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
	assert.Zero(t, s.Len())
}

func TestReport_ConcurrentSameBusNeverStale(t *testing.T) {
	rec := &recorder{}
	s := NewStore(rec)

	const workers, perWorker = 4, 250
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Report("B001", cbd, func() time.Time { return time.Now().UTC() }); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("report failed: %v", err)
	}

	events := rec.snapshot()
	require.Len(t, events, workers*perWorker)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp), "event %d went back in time", i)
	}
}
