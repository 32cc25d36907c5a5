// Package feed renders the live store as a GTFS-realtime VehiclePositions feed.
package feed

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/live"
)

// Source is the subset of tracker.Service the feed reads from.
type Source interface {
	LiveLocations() []live.LiveLocation
	GetBus(busID string) (catalog.Bus, error)
	Progress(busID string) (eta.Progress, error)
}

type Builder struct {
	src Source
	now func() time.Time
}

func NewBuilder(src Source) *Builder { return &Builder{src: src, now: time.Now} }

// VehiclePositions returns a full-dataset feed with one entity per bus that
// has a live location.
func (b *Builder) VehiclePositions() *gtfs.FeedMessage {
	locs := b.src.LiveLocations()
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(b.now().Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(locs)),
	}
	for _, l := range locs {
		msg.Entity = append(msg.Entity, b.entity(l))
	}
	return msg
}

func (b *Builder) entity(l live.LiveLocation) *gtfs.FeedEntity {
	vp := &gtfs.VehiclePosition{
		Vehicle: &gtfs.VehicleDescriptor{Id: proto.String(l.BusID)},
		Position: &gtfs.Position{
			Latitude:  proto.Float32(float32(l.Position.Lat)),
			Longitude: proto.Float32(float32(l.Position.Lon)),
		},
		Timestamp: proto.Uint64(uint64(l.Timestamp.Unix())),
	}
	if bus, err := b.src.GetBus(l.BusID); err == nil {
		if bus.LicensePlate != "" {
			vp.Vehicle.LicensePlate = proto.String(bus.LicensePlate)
		}
		if bus.CurrentRouteID != "" {
			vp.Trip = &gtfs.TripDescriptor{RouteId: proto.String(bus.CurrentRouteID)}
		}
	}
	if p, err := b.src.Progress(l.BusID); err == nil {
		vp.Position.Bearing = proto.Float32(float32(p.BearingDeg))
	}
	return &gtfs.FeedEntity{Id: proto.String(l.BusID), Vehicle: vp}
}

// Marshal encodes msg as protobuf, or as protojson when asJSON is set.
func Marshal(msg *gtfs.FeedMessage, asJSON bool) ([]byte, error) {
	if asJSON {
		return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	}
	return proto.Marshal(msg)
}
