package cache

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "geocode:"

// RedisGeocodeCache stores each address as a hash at geocode:<address> with
// lat and lon fields, so several service replicas share one cache. Entries
// carry no TTL.
type RedisGeocodeCache struct {
	client redis.UniversalClient
}

func NewRedisGeocodeCache(client redis.UniversalClient) *RedisGeocodeCache {
	return &RedisGeocodeCache{client: client}
}

// OpenRedis connects to the server named by a redis:// URL and checks it
// answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("open redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open redis: ping: %w", err)
	}
	return client, nil
}

func (r *RedisGeocodeCache) Get(ctx context.Context, key string) (_ domain.Coordinates, _ bool, err error) {
	defer obs.Time(ctx, "geocode.cache.redis.get")(&err)

	fields, err := r.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("get geocode cache %q: %w", key, err)
	}
	if len(fields) == 0 {
		return domain.Coordinates{}, false, nil
	}

	lat, errLat := strconv.ParseFloat(fields["lat"], 64)
	lon, errLon := strconv.ParseFloat(fields["lon"], 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("get geocode cache %q: corrupt entry: %w", key, err)
	}

	return domain.Coordinates{Lat: lat, Lon: lon}, true, nil
}

func (r *RedisGeocodeCache) Put(ctx context.Context, key string, c domain.Coordinates) error {
	err := r.client.HSet(ctx, redisKeyPrefix+key,
		"lat", strconv.FormatFloat(c.Lat, 'f', -1, 64),
		"lon", strconv.FormatFloat(c.Lon, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("insert geocode cache %q: %w", key, err)
	}
	return nil
}

func (r *RedisGeocodeCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete geocode cache %q: %w", key, err)
	}
	return nil
}
