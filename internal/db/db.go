package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/live"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS routes (
  route_id   text PRIMARY KEY,
  route_name text NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS route_points (
  route_id  text NOT NULL REFERENCES routes(route_id),
  seq       integer NOT NULL,
  latitude  double precision NOT NULL,
  longitude double precision NOT NULL,
  PRIMARY KEY (route_id, seq)
);
CREATE TABLE IF NOT EXISTS stops (
  stop_id   text PRIMARY KEY,
  stop_name text NOT NULL DEFAULT '',
  latitude  double precision NOT NULL,
  longitude double precision NOT NULL
);
CREATE TABLE IF NOT EXISTS route_stops (
  route_id                 text NOT NULL REFERENCES routes(route_id),
  stop_id                  text NOT NULL REFERENCES stops(stop_id),
  order_in_route           integer NOT NULL,
  scheduled_arrival_time   text NOT NULL,
  scheduled_departure_time text NOT NULL,
  PRIMARY KEY (route_id, order_in_route)
);
CREATE TABLE IF NOT EXISTS buses (
  bus_id           text PRIMARY KEY,
  license_plate    text NOT NULL DEFAULT '',
  capacity         integer NOT NULL,
  current_route_id text REFERENCES routes(route_id),
  driver_id        text NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS live_locations (
  bus_id      text PRIMARY KEY,
  latitude    double precision NOT NULL,
  longitude   double precision NOT NULL,
  reported_at timestamptz NOT NULL
);`

// Migrate creates the tables the tracker reads and writes if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// LoadCatalog reads routes, stops, route stops and buses. The result still
// has to pass catalog.New.
func LoadCatalog(ctx context.Context, db *sql.DB) (catalog.Data, error) {
	var d catalog.Data

	rows, err := db.QueryContext(ctx, `SELECT route_id, route_name FROM routes ORDER BY route_id`)
	if err != nil {
		return d, fmt.Errorf("query routes: %w", err)
	}
	idx := map[string]int{}
	for rows.Next() {
		var r catalog.Route
		if err := rows.Scan(&r.RouteID, &r.Name); err != nil {
			rows.Close()
			return d, err
		}
		idx[r.RouteID] = len(d.Routes)
		d.Routes = append(d.Routes, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = db.QueryContext(ctx, `SELECT route_id, latitude, longitude FROM route_points ORDER BY route_id, seq`)
	if err != nil {
		return d, fmt.Errorf("query route_points: %w", err)
	}
	for rows.Next() {
		var id string
		var p geo.Point
		if err := rows.Scan(&id, &p.Lat, &p.Lon); err != nil {
			rows.Close()
			return d, err
		}
		if i, ok := idx[id]; ok {
			d.Routes[i].Polyline = append(d.Routes[i].Polyline, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = db.QueryContext(ctx, `SELECT stop_id, stop_name, latitude, longitude FROM stops ORDER BY stop_id`)
	if err != nil {
		return d, fmt.Errorf("query stops: %w", err)
	}
	for rows.Next() {
		var s catalog.Stop
		if err := rows.Scan(&s.StopID, &s.Name, &s.Location.Lat, &s.Location.Lon); err != nil {
			rows.Close()
			return d, err
		}
		d.Stops = append(d.Stops, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = db.QueryContext(ctx, `
SELECT route_id, stop_id, order_in_route, scheduled_arrival_time, scheduled_departure_time
FROM route_stops ORDER BY route_id, order_in_route`)
	if err != nil {
		return d, fmt.Errorf("query route_stops: %w", err)
	}
	for rows.Next() {
		var rs catalog.RouteStop
		var arr, dep string
		if err := rows.Scan(&rs.RouteID, &rs.StopID, &rs.OrderInRoute, &arr, &dep); err != nil {
			rows.Close()
			return d, err
		}
		if rs.ScheduledArrival, err = catalog.ParseTimeOfDay(arr); err != nil {
			rows.Close()
			return d, fmt.Errorf("route %q stop %q: %w", rs.RouteID, rs.StopID, err)
		}
		if rs.ScheduledDeparture, err = catalog.ParseTimeOfDay(dep); err != nil {
			rows.Close()
			return d, fmt.Errorf("route %q stop %q: %w", rs.RouteID, rs.StopID, err)
		}
		d.RouteStops = append(d.RouteStops, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = db.QueryContext(ctx, `
SELECT bus_id, license_plate, capacity, COALESCE(current_route_id, ''), driver_id
FROM buses ORDER BY bus_id`)
	if err != nil {
		return d, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b catalog.Bus
		if err := rows.Scan(&b.BusID, &b.LicensePlate, &b.Capacity, &b.CurrentRouteID, &b.DriverID); err != nil {
			return d, err
		}
		d.Buses = append(d.Buses, b)
	}
	return d, rows.Err()
}

// SaveCatalog writes d, replacing rows with the same keys. Used to seed a
// fresh database.
func SaveCatalog(ctx context.Context, db *sql.DB, d catalog.Data) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range d.Routes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO routes (route_id, route_name) VALUES ($1, $2)
ON CONFLICT (route_id) DO UPDATE SET route_name = EXCLUDED.route_name`, r.RouteID, r.Name); err != nil {
			return fmt.Errorf("insert route %q: %w", r.RouteID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM route_points WHERE route_id = $1`, r.RouteID); err != nil {
			return fmt.Errorf("clear route_points %q: %w", r.RouteID, err)
		}
		for i, p := range r.Polyline {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO route_points (route_id, seq, latitude, longitude) VALUES ($1, $2, $3, $4)`,
				r.RouteID, i+1, p.Lat, p.Lon); err != nil {
				return fmt.Errorf("insert route_points %q: %w", r.RouteID, err)
			}
		}
	}
	for _, s := range d.Stops {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO stops (stop_id, stop_name, latitude, longitude) VALUES ($1, $2, $3, $4)
ON CONFLICT (stop_id) DO UPDATE SET stop_name = EXCLUDED.stop_name,
  latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude`,
			s.StopID, s.Name, s.Location.Lat, s.Location.Lon); err != nil {
			return fmt.Errorf("insert stop %q: %w", s.StopID, err)
		}
	}
	for _, rs := range d.RouteStops {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO route_stops (route_id, stop_id, order_in_route, scheduled_arrival_time, scheduled_departure_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (route_id, order_in_route) DO UPDATE SET stop_id = EXCLUDED.stop_id,
  scheduled_arrival_time = EXCLUDED.scheduled_arrival_time,
  scheduled_departure_time = EXCLUDED.scheduled_departure_time`,
			rs.RouteID, rs.StopID, rs.OrderInRoute, rs.ScheduledArrival.String(), rs.ScheduledDeparture.String()); err != nil {
			return fmt.Errorf("insert route_stop %q/%d: %w", rs.RouteID, rs.OrderInRoute, err)
		}
	}
	for _, b := range d.Buses {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO buses (bus_id, license_plate, capacity, current_route_id, driver_id)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
ON CONFLICT (bus_id) DO UPDATE SET license_plate = EXCLUDED.license_plate,
  capacity = EXCLUDED.capacity, current_route_id = EXCLUDED.current_route_id,
  driver_id = EXCLUDED.driver_id`,
			b.BusID, b.LicensePlate, b.Capacity, b.CurrentRouteID, b.DriverID); err != nil {
			return fmt.Errorf("insert bus %q: %w", b.BusID, err)
		}
	}
	return tx.Commit()
}

// UpdateBusRoute writes a bus's current route. An empty routeID stores NULL.
func UpdateBusRoute(ctx context.Context, db *sql.DB, busID, routeID string) error {
	res, err := db.ExecContext(ctx, `UPDATE buses SET current_route_id = NULLIF($2, '') WHERE bus_id = $1`, busID, routeID)
	if err != nil {
		return fmt.Errorf("update bus %q route: %w", busID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bus %q route: %w", busID, err)
	}
	if n == 0 {
		return fmt.Errorf("update bus %q route: no such bus row", busID)
	}
	return nil
}

// UpsertLocation persists l unless a newer row for the bus already exists.
func UpsertLocation(ctx context.Context, db *sql.DB, l live.LiveLocation) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO live_locations (bus_id, latitude, longitude, reported_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (bus_id) DO UPDATE SET latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude, reported_at = EXCLUDED.reported_at
WHERE live_locations.reported_at <= EXCLUDED.reported_at`,
		l.BusID, l.Position.Lat, l.Position.Lon, l.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert live_location %q: %w", l.BusID, err)
	}
	return nil
}

// LoadLiveLocations returns every persisted live location.
func LoadLiveLocations(ctx context.Context, db *sql.DB) ([]live.LiveLocation, error) {
	rows, err := db.QueryContext(ctx, `SELECT bus_id, latitude, longitude, reported_at FROM live_locations`)
	if err != nil {
		return nil, fmt.Errorf("query live_locations: %w", err)
	}
	defer rows.Close()
	var out []live.LiveLocation
	for rows.Next() {
		var l live.LiveLocation
		if err := rows.Scan(&l.BusID, &l.Position.Lat, &l.Position.Lon, &l.Timestamp); err != nil {
			return nil, err
		}
		l.Timestamp = l.Timestamp.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}
