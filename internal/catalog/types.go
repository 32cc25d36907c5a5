package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"bus-tracker/internal/geo"
)

type Stop struct {
	StopID   string    `json:"stop_id"`
	Name     string    `json:"stop_name"`
	Location geo.Point `json:"location"`
}

type Route struct {
	RouteID  string      `json:"route_id"`
	Name     string      `json:"route_name"`
	Polyline []geo.Point `json:"polyline_coordinates"`
}

type RouteStop struct {
	RouteID            string    `json:"route_id"`
	StopID             string    `json:"stop_id"`
	OrderInRoute       int       `json:"order_in_route"`
	ScheduledArrival   TimeOfDay `json:"scheduled_arrival_time"`
	ScheduledDeparture TimeOfDay `json:"scheduled_departure_time"`
}

type Bus struct {
	BusID          string `json:"bus_id"`
	LicensePlate   string `json:"license_plate"`
	Capacity       int    `json:"capacity"`
	CurrentRouteID string `json:"current_route_id,omitempty"` // empty when unassigned
	DriverID       string `json:"driver_id"`
}

// RouteStopView is a stop as it appears on one route: the stop itself plus
// its position and schedule on that route.
type RouteStopView struct {
	Stop
	OrderInRoute       int       `json:"order_in_route"`
	ScheduledArrival   TimeOfDay `json:"scheduled_arrival_time"`
	ScheduledDeparture TimeOfDay `json:"scheduled_departure_time"`
}

// TimeOfDay is a scheduled time as seconds since midnight of the service day.
// Values past 24h denote after-midnight service.
type TimeOfDay int

// ParseTimeOfDay parses HH:MM or HH:MM:SS. Hours may exceed 23.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		vals[i] = n
	}
	if vals[1] > 59 || vals[2] > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(vals[0]*3600 + vals[1]*60 + vals[2]), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals known to be valid.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	h, m, s := int(t)/3600, int(t)%3600/60, int(t)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
