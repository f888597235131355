package cache

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/ports"
	"errors"
	"log"
)

// TieredGeocodeCache keeps a process-local cache in front of a durable one.
// Reads fall through to the durable tier and promote hits; writes and
// deletes go to both tiers.
type TieredGeocodeCache struct {
	near ports.GeocodeCache
	far  ports.GeocodeCache
}

func NewTieredGeocodeCache(near, far ports.GeocodeCache) *TieredGeocodeCache {
	return &TieredGeocodeCache{near: near, far: far}
}

func (t *TieredGeocodeCache) Get(ctx context.Context, key string) (domain.Coordinates, bool, error) {
	c, ok, err := t.near.Get(ctx, key)
	if err == nil && ok {
		return c, true, nil
	}

	c, ok, err = t.far.Get(ctx, key)
	if err != nil || !ok {
		return domain.Coordinates{}, false, err
	}

	if err := t.near.Put(ctx, key, c); err != nil {
		log.Printf("geocode cache promote failed key=%q err=%v", key, err)
	}
	return c, true, nil
}

func (t *TieredGeocodeCache) Put(ctx context.Context, key string, c domain.Coordinates) error {
	return errors.Join(t.near.Put(ctx, key, c), t.far.Put(ctx, key, c))
}

func (t *TieredGeocodeCache) Delete(ctx context.Context, key string) error {
	return errors.Join(t.near.Delete(ctx, key), t.far.Delete(ctx, key))
}
