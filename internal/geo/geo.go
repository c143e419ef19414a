package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/agro-freight/internal/models"
)

// EarthRadiusKm is the sphere radius used for every great-circle computation.
const EarthRadiusKm = 6371.0

// Haversine distance in kilometres
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Distance is the great-circle distance between two coordinates in km.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// PathDistance sums the great-circle legs of an ordered trail and rounds the total
// to two decimals. Fewer than two points is a zero-length trail.
func PathDistance(points []models.Coord) float64 {
	if len(points) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return Round2(total)
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Bearing is the initial compass heading from a to b in degrees, 0..360.
func Bearing(a, b models.Coord) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Interpolate returns steps+1 evenly spaced points from a to b inclusive. Legs are
// short enough that linear interpolation in degrees is fine.
func Interpolate(a, b models.Coord, steps int) []models.Coord {
	if steps < 1 {
		steps = 1
	}
	out := make([]models.Coord, 0, steps+1)
	for i := 0; i < steps; i++ {
		f := float64(i) / float64(steps)
		out = append(out, models.Coord{Lat: a.Lat + (b.Lat-a.Lat)*f, Lon: a.Lon + (b.Lon-a.Lon)*f})
	}
	return append(out, b)
}

// Position is a live shipment position returned by Nearby.
type Position struct {
	ShipmentID string       `json:"shipmentId"`
	Loc        models.Coord `json:"location"`
	DistanceKm float64      `json:"distanceKm"`
	Updated    time.Time    `json:"updated"`
}

// Geo is the live map of in-transit shipments.
type Geo interface {
	Upsert(ctx context.Context, shipmentID string, loc models.Coord) error
	Remove(ctx context.Context, shipmentID string) error
	Nearby(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]Position, error)
}

type Index struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]Position)}
}

func (g *Index) Upsert(_ context.Context, shipmentID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[shipmentID] = Position{ShipmentID: shipmentID, Loc: loc, Updated: time.Now()}
	return nil
}

func (g *Index) Remove(_ context.Context, shipmentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, shipmentID)
	return nil
}

// naive scan; fine for the number of trucks on the road at once
func (g *Index) Nearby(_ context.Context, center models.Coord, radiusKm float64, limit int) ([]Position, error) {
	g.mu.RLock()
	out := make([]Position, 0, len(g.positions))
	for _, p := range g.positions {
		p.DistanceKm = Round2(Distance(center, p.Loc))
		if radiusKm > 0 && p.DistanceKm > radiusKm {
			continue
		}
		out = append(out, p)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Project applies a lifecycle event to the live map: location samples move the
// shipment, terminal statuses take it off the map.
func Project(ctx context.Context, g Geo, ev models.LifecycleEvent) error {
	switch ev.Kind {
	case models.LifecycleLocation:
		if ev.Location == nil {
			return nil
		}
		return g.Upsert(ctx, ev.ShipmentID, *ev.Location)
	case models.LifecycleStatus:
		if ev.Status.Terminal() {
			return g.Remove(ctx, ev.ShipmentID)
		}
	}
	return nil
}

// Projector feeds lifecycle events straight into a live map when no event stream
// sits in between.
type Projector struct {
	Geo Geo
}

func (p Projector) PublishEvent(ctx context.Context, ev models.LifecycleEvent) error {
	return Project(ctx, p.Geo, ev)
}
