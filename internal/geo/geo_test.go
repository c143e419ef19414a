package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/agro-freight/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLongitudeAtEquator(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	if math.Abs(d-111.19) > 0.01 {
		t.Fatalf("expected ~111.19km, got %f", d)
	}
}

func TestPathDistance(t *testing.T) {
	cases := []struct {
		name   string
		points []models.Coord
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []models.Coord{{Lat: 36.75, Lon: 3.05}}, 0},
		{"one leg", []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}, 111.19},
		{"there and back", []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 0}}, 222.39},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PathDistance(tc.points); got != tc.want {
				t.Fatalf("PathDistance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, "blida", models.Coord{Lat: 36.47, Lon: 2.83})
	_ = g.Upsert(ctx, "alger", models.Coord{Lat: 36.75, Lon: 3.06})
	_ = g.Upsert(ctx, "oran", models.Coord{Lat: 35.70, Lon: -0.63})

	got, err := g.Nearby(ctx, models.Coord{Lat: 36.75, Lon: 3.05}, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions within 100km, got %d", len(got))
	}
	if got[0].ShipmentID != "alger" || got[1].ShipmentID != "blida" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestProjectRemovesTerminalShipments(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	loc := models.Coord{Lat: 1, Lon: 1}
	if err := Project(ctx, g, models.LifecycleEvent{Kind: models.LifecycleLocation, ShipmentID: "s1", Location: &loc}); err != nil {
		t.Fatal(err)
	}
	if got, _ := g.Nearby(ctx, loc, 0, 0); len(got) != 1 {
		t.Fatalf("expected shipment on map, got %d", len(got))
	}
	if err := Project(ctx, g, models.LifecycleEvent{Kind: models.LifecycleStatus, ShipmentID: "s1", Status: models.StatusDelivered}); err != nil {
		t.Fatal(err)
	}
	if got, _ := g.Nearby(ctx, loc, 0, 0); len(got) != 0 {
		t.Fatalf("expected empty map after delivery, got %d", len(got))
	}
}

func TestBearingCardinalPoints(t *testing.T) {
	origin := models.Coord{}
	cases := []struct {
		to   models.Coord
		want float64
	}{
		{models.Coord{Lat: 1}, 0},
		{models.Coord{Lon: 1}, 90},
		{models.Coord{Lat: -1}, 180},
		{models.Coord{Lon: -1}, 270},
	}
	for _, c := range cases {
		if got := Bearing(origin, c.to); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("bearing to %+v: got %f want %f", c.to, got, c.want)
		}
	}
}

func TestInterpolateEndpoints(t *testing.T) {
	a := models.Coord{Lat: 36.7538, Lon: 3.0588}
	b := models.Coord{Lat: 36.4700, Lon: 2.8277}
	pts := Interpolate(a, b, 4)
	if len(pts) != 5 || pts[0] != a || pts[4] != b {
		t.Fatalf("unexpected path %+v", pts)
	}
	if got := Interpolate(a, b, 0); len(got) != 2 {
		t.Fatalf("zero steps should still give both ends, got %d", len(got))
	}
}
