package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/agro-freight/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, shipmentID string, loc models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: shipmentID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", shipmentID, err)
	}
	return r.client.HSet(ctx, metaKey(shipmentID), "updated", time.Now().Format(time.RFC3339)).Err()
}

func (r *RedisGeo) Remove(ctx context.Context, shipmentID string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.key, shipmentID)
	pipe.Del(ctx, metaKey(shipmentID))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGeo) Nearby(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]Position, error) {
	if radiusKm <= 0 {
		radiusKm = 500
	}
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(res))
	for _, g := range res {
		p := Position{
			ShipmentID: g.Name,
			Loc:        models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			DistanceKm: Round2(g.Dist),
		}
		if v, err := r.client.HGet(ctx, metaKey(g.Name), "updated").Result(); err == nil {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				p.Updated = ts
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func metaKey(id string) string { return "shipment:pos:" + id }
