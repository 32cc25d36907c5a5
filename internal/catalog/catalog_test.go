package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/apperr"
	"bus-tracker/internal/geo"
)

func seedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(Seed())
	require.NoError(t, err)
	return c
}

func TestSeedIsValid(t *testing.T) {
	c := seedCatalog(t)
	assert.Len(t, c.Routes(), 2)
	assert.Len(t, c.Buses(), 3)
}

func TestRoutes_LoadOrder(t *testing.T) {
	c := seedCatalog(t)
	routes := c.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "R001", routes[0].RouteID)
	assert.Equal(t, "R002", routes[1].RouteID)
}

func TestStopsForRoute_SortedByOrder(t *testing.T) {
	d := Seed()
	// Shuffle the associations; the catalog must sort them.
	d.RouteStops[0], d.RouteStops[2] = d.RouteStops[2], d.RouteStops[0]
	c, err := New(d)
	require.NoError(t, err)

	views, err := c.StopsForRoute("R001")
	require.NoError(t, err)
	require.Len(t, views, 3)
	for i, v := range views {
		assert.Equal(t, i+1, v.OrderInRoute)
	}
	assert.Equal(t, "S001", views[0].StopID)
	assert.Equal(t, "CBD Main Terminal", views[0].Name)
	assert.Equal(t, "08:05", views[0].ScheduledDeparture.String())
	assert.Equal(t, "S003", views[2].StopID)
}

func TestStopsForRoute_UnknownRoute(t *testing.T) {
	c := seedCatalog(t)
	views, err := c.StopsForRoute("R999")
	assert.Nil(t, views)
	assert.ErrorIs(t, err, ErrRouteNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStopsForRoute_RouteWithoutStops(t *testing.T) {
	d := Seed()
	d.Routes = append(d.Routes, Route{RouteID: "R003", Name: "Empty", Polyline: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}})
	c, err := New(d)
	require.NoError(t, err)

	_, err = c.StopsForRoute("R003")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestStopAndRouteLookups(t *testing.T) {
	c := seedCatalog(t)

	s, err := c.Stop("S004")
	require.NoError(t, err)
	assert.Equal(t, "Westlands Mall", s.Name)

	_, err = c.Stop("nope")
	assert.ErrorIs(t, err, ErrStopNotFound)

	r, err := c.Route("R002")
	require.NoError(t, err)
	assert.Len(t, r.Polyline, 4)

	_, err = c.Route("nope")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	rs, ok := c.RouteStop("R002", "S004")
	require.True(t, ok)
	assert.Equal(t, 2, rs.OrderInRoute)
	_, ok = c.RouteStop("R002", "S003")
	assert.False(t, ok)
}

func TestAssignRoute(t *testing.T) {
	c := seedCatalog(t)

	b, err := c.AssignRoute("B001", "R002")
	require.NoError(t, err)
	assert.Equal(t, "R002", b.CurrentRouteID)

	got, err := c.Bus("B001")
	require.NoError(t, err)
	assert.Equal(t, "R002", got.CurrentRouteID)

	b, err = c.AssignRoute("B001", "")
	require.NoError(t, err)
	assert.Empty(t, b.CurrentRouteID)

	_, err = c.AssignRoute("B001", "R404")
	assert.ErrorIs(t, err, ErrRouteNotFound)
	_, err = c.AssignRoute("B404", "R001")
	assert.ErrorIs(t, err, ErrBusNotFound)
}

func TestNew_RejectsInvalidData(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Data)
		wantErr string
	}{
		{"duplicate stop", func(d *Data) { d.Stops = append(d.Stops, d.Stops[0]) }, "duplicate stop"},
		{"duplicate route", func(d *Data) { d.Routes = append(d.Routes, d.Routes[0]) }, "duplicate route"},
		{"short polyline", func(d *Data) { d.Routes[0].Polyline = d.Routes[0].Polyline[:1] }, "at least 2 points"},
		{"bad stop coordinate", func(d *Data) { d.Stops[0].Location.Lat = 91 }, "invalid coordinate"},
		{"unknown stop", func(d *Data) { d.RouteStops[0].StopID = "S999" }, "unknown stop"},
		{"unknown route", func(d *Data) { d.RouteStops[0].RouteID = "R999" }, "unknown route"},
		{"order gap", func(d *Data) { d.RouteStops[2].OrderInRoute = 4 }, "without gaps"},
		{"duplicate order", func(d *Data) { d.RouteStops[1].OrderInRoute = 1 }, "without gaps"},
		{"departure before arrival", func(d *Data) {
			d.RouteStops[0].ScheduledDeparture = MustTimeOfDay("07:59")
		}, "before arrival"},
		{"zero capacity", func(d *Data) { d.Buses[0].Capacity = 0 }, "capacity"},
		{"bus on unknown route", func(d *Data) { d.Buses[0].CurrentRouteID = "R999" }, "unknown route"},
		{"empty bus id", func(d *Data) { d.Buses[0].BusID = " " }, "empty bus_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Seed()
			tt.mutate(&d)
			_, err := New(d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		str     string
		wantErr bool
	}{
		{in: "08:05", want: 8*3600 + 5*60, str: "08:05"},
		{in: "23:59:30", want: 23*3600 + 59*60 + 30, str: "23:59:30"},
		{in: "25:10", want: 25*3600 + 10*60, str: "25:10"},
		{in: " 00:00 ", want: 0, str: "00:00"},
		{in: "8", wantErr: true},
		{in: "08:60", wantErr: true},
		{in: "aa:bb", wantErr: true},
		{in: "-1:00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}
}

func TestTimeOfDay_JSONText(t *testing.T) {
	b, err := MustTimeOfDay("08:45").MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "08:45", string(b))

	var tod TimeOfDay
	require.NoError(t, tod.UnmarshalText([]byte("09:30")))
	assert.Equal(t, MustTimeOfDay("09:30"), tod)
}

const sampleYAML = `
routes:
  - id: R10
    name: Ring Road
    polyline:
      - {latitude: -1.28, longitude: 36.81}
      - {latitude: -1.29, longitude: 36.82}
stops:
  - {id: A, name: Alpha, latitude: -1.28, longitude: 36.81}
  - {id: B, name: Bravo, latitude: -1.29, longitude: 36.82}
route_stops:
  - {route_id: R10, stop_id: A, order: 1, arrival: "06:00", departure: "06:02"}
  - {route_id: R10, stop_id: B, order: 2, arrival: "06:20", departure: "06:20"}
buses:
  - {id: X1, license_plate: KDA 001A, capacity: 33, route_id: R10, driver_id: D9}
`

func TestDecode(t *testing.T) {
	d, err := Decode(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	c, err := New(d)
	require.NoError(t, err)

	views, err := c.StopsForRoute("R10")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Bravo", views[1].Name)
	assert.Equal(t, "06:20", views[1].ScheduledArrival.String())

	b, err := c.Bus("X1")
	require.NoError(t, err)
	assert.Equal(t, 33, b.Capacity)
	assert.Equal(t, "R10", b.CurrentRouteID)
}

func TestDecode_ValidationFailure(t *testing.T) {
	bad := strings.Replace(sampleYAML, "latitude: -1.28, longitude: 36.81}\n  - {id: B", "latitude: -95, longitude: 36.81}\n  - {id: B", 1)
	_, err := Decode(strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate catalog")

	_, err = Decode(strings.NewReader(strings.Replace(sampleYAML, `arrival: "06:20"`, `arrival: "6h20"`, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arrival")
}
