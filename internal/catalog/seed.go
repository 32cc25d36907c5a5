package catalog

import "bus-tracker/internal/geo"

// Seed returns the built-in Nairobi fleet used when no external catalog
// source is configured.
func Seed() Data {
	return Data{
		Buses: []Bus{
			{BusID: "B001", LicensePlate: "KCA 123A", Capacity: 50, CurrentRouteID: "R001", DriverID: "D001"},
			{BusID: "B002", LicensePlate: "KCB 456B", Capacity: 45, CurrentRouteID: "R002", DriverID: "D002"},
			{BusID: "B003", LicensePlate: "KCC 789C", Capacity: 60, CurrentRouteID: "R001", DriverID: "D003"},
		},
		Routes: []Route{
			{RouteID: "R001", Name: "City Center to Airport", Polyline: []geo.Point{
				{Lat: -1.286389, Lon: 36.817223}, // CBD
				{Lat: -1.292066, Lon: 36.820000},
				{Lat: -1.300000, Lon: 36.830000},
				{Lat: -1.310000, Lon: 36.840000},
				{Lat: -1.319722, Lon: 36.890000}, // JKIA
			}},
			{RouteID: "R002", Name: "CBD to Westlands", Polyline: []geo.Point{
				{Lat: -1.286389, Lon: 36.817223},
				{Lat: -1.275000, Lon: 36.800000},
				{Lat: -1.260000, Lon: 36.790000},
				{Lat: -1.250000, Lon: 36.780000},
			}},
		},
		Stops: []Stop{
			{StopID: "S001", Name: "CBD Main Terminal", Location: geo.Point{Lat: -1.286389, Lon: 36.817223}},
			{StopID: "S002", Name: "Museum Hill", Location: geo.Point{Lat: -1.278000, Lon: 36.810000}},
			{StopID: "S003", Name: "Airport Entrance", Location: geo.Point{Lat: -1.319722, Lon: 36.890000}},
			{StopID: "S004", Name: "Westlands Mall", Location: geo.Point{Lat: -1.250000, Lon: 36.780000}},
		},
		RouteStops: []RouteStop{
			{RouteID: "R001", StopID: "S001", OrderInRoute: 1, ScheduledArrival: MustTimeOfDay("08:00"), ScheduledDeparture: MustTimeOfDay("08:05")},
			{RouteID: "R001", StopID: "S002", OrderInRoute: 2, ScheduledArrival: MustTimeOfDay("08:15"), ScheduledDeparture: MustTimeOfDay("08:16")},
			{RouteID: "R001", StopID: "S003", OrderInRoute: 3, ScheduledArrival: MustTimeOfDay("08:45"), ScheduledDeparture: MustTimeOfDay("08:50")},
			{RouteID: "R002", StopID: "S001", OrderInRoute: 1, ScheduledArrival: MustTimeOfDay("09:00"), ScheduledDeparture: MustTimeOfDay("09:05")},
			{RouteID: "R002", StopID: "S004", OrderInRoute: 2, ScheduledArrival: MustTimeOfDay("09:25"), ScheduledDeparture: MustTimeOfDay("09:30")},
		},
	}
}
