package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-tracker/internal/geo"
)

// fileDoc is the on-disk YAML layout of a catalog.
type fileDoc struct {
	Routes []struct {
		ID       string      `yaml:"id" validate:"required"`
		Name     string      `yaml:"name"`
		Polyline []filePoint `yaml:"polyline" validate:"min=2,dive"`
	} `yaml:"routes" validate:"dive"`
	Stops []struct {
		ID        string  `yaml:"id" validate:"required"`
		Name      string  `yaml:"name"`
		Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
		Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
	} `yaml:"stops" validate:"dive"`
	RouteStops []struct {
		RouteID   string `yaml:"route_id" validate:"required"`
		StopID    string `yaml:"stop_id" validate:"required"`
		Order     int    `yaml:"order" validate:"gt=0"`
		Arrival   string `yaml:"arrival" validate:"required"`
		Departure string `yaml:"departure" validate:"required"`
	} `yaml:"route_stops" validate:"dive"`
	Buses []struct {
		ID           string `yaml:"id" validate:"required"`
		LicensePlate string `yaml:"license_plate"`
		Capacity     int    `yaml:"capacity" validate:"gt=0"`
		RouteID      string `yaml:"route_id"`
		DriverID     string `yaml:"driver_id"`
	} `yaml:"buses" validate:"dive"`
}

type filePoint struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return Data{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a YAML catalog document.
func Decode(r io.Reader) (Data, error) {
	var doc fileDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return Data{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return Data{}, fmt.Errorf("validate catalog: %w", err)
	}

	var d Data
	for _, r := range doc.Routes {
		route := Route{RouteID: r.ID, Name: r.Name}
		for _, p := range r.Polyline {
			route.Polyline = append(route.Polyline, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
		}
		d.Routes = append(d.Routes, route)
	}
	for _, s := range doc.Stops {
		d.Stops = append(d.Stops, Stop{StopID: s.ID, Name: s.Name, Location: geo.Point{Lat: s.Latitude, Lon: s.Longitude}})
	}
	for _, rs := range doc.RouteStops {
		arr, err := ParseTimeOfDay(rs.Arrival)
		if err != nil {
			return Data{}, fmt.Errorf("route %q stop %q arrival: %w", rs.RouteID, rs.StopID, err)
		}
		dep, err := ParseTimeOfDay(rs.Departure)
		if err != nil {
			return Data{}, fmt.Errorf("route %q stop %q departure: %w", rs.RouteID, rs.StopID, err)
		}
		d.RouteStops = append(d.RouteStops, RouteStop{
			RouteID: rs.RouteID, StopID: rs.StopID, OrderInRoute: rs.Order,
			ScheduledArrival: arr, ScheduledDeparture: dep,
		})
	}
	for _, b := range doc.Buses {
		d.Buses = append(d.Buses, Bus{
			BusID: b.ID, LicensePlate: b.LicensePlate, Capacity: b.Capacity,
			CurrentRouteID: b.RouteID, DriverID: b.DriverID,
		})
	}
	return d, nil
}
