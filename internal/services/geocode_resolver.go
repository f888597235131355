package services

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"delivery-run-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultGeocodeWorkers bounds concurrent upstream lookups per ResolveAll.
const DefaultGeocodeWorkers = 4

// GeocodeResolver resolves addresses through a cache in front of an upstream
// geocoder. Concurrent lookups of the same normalized address share one
// upstream call. The resolver is safe for concurrent use; its cache is owned
// by whoever constructs it, so tests can pass a fresh one.
type GeocodeResolver struct {
	geocoder ports.Geocoder
	cache    ports.GeocodeCache
	workers  int
	inflight singleflight.Group
}

func NewGeocodeResolver(geocoder ports.Geocoder, cache ports.GeocodeCache, workers int) *GeocodeResolver {
	if workers <= 0 {
		workers = DefaultGeocodeWorkers
	}
	return &GeocodeResolver{
		geocoder: geocoder,
		cache:    cache,
		workers:  workers,
	}
}

// Resolve returns coordinates for address. Failures of the upstream provider
// are reported as *domain.GeocodeError wrapping domain.ErrGeocodeUnavailable.
func (r *GeocodeResolver) Resolve(ctx context.Context, address string) (domain.Coordinates, error) {
	key := domain.NormalizeAddress(address)
	if key == "" {
		return domain.Coordinates{}, &domain.InvalidArgumentError{Field: "address", Reason: "must be non-empty"}
	}

	// Check the cache before joining or starting an upstream call.
	if c, ok := r.cached(ctx, key); ok {
		return c, nil
	}

	ch := r.inflight.DoChan(key, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), key, address)
	})

	select {
	case <-ctx.Done():
		return domain.Coordinates{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Coordinates{}, res.Err
		}
		return res.Val.(domain.Coordinates), nil
	}
}

// fetch runs once per key at a time. The cache is consulted again because a
// previous flight may have completed between the caller's miss and this call.
func (r *GeocodeResolver) fetch(ctx context.Context, key, address string) (_ domain.Coordinates, err error) {
	defer obs.Time(ctx, "geocode.resolve")(&err)

	if c, ok := r.cached(ctx, key); ok {
		return c, nil
	}

	c, err := r.geocoder.Geocode(ctx, strings.Join(strings.Fields(address), " "))
	if err != nil {
		var ge *domain.GeocodeError
		if errors.As(err, &ge) {
			return domain.Coordinates{}, err
		}
		return domain.Coordinates{}, &domain.GeocodeError{Address: address, Cause: err}
	}
	if err := c.Validate(); err != nil {
		return domain.Coordinates{}, &domain.GeocodeError{Address: address, Cause: err}
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, key, c); err != nil {
			log.Printf("geocode cache write failed key=%q err=%v", key, err)
		}
	}

	return c, nil
}

func (r *GeocodeResolver) cached(ctx context.Context, key string) (domain.Coordinates, bool) {
	if r.cache == nil {
		return domain.Coordinates{}, false
	}
	c, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Printf("geocode cache read failed key=%q err=%v", key, err)
		return domain.Coordinates{}, false
	}
	return c, ok
}

// ResolveAll resolves many addresses with at most r.workers upstream calls in
// flight. Results are keyed by the addresses as given. The first failure
// cancels outstanding work and is returned.
func (r *GeocodeResolver) ResolveAll(ctx context.Context, addresses []string) (_ map[string]domain.Coordinates, err error) {
	defer obs.Time(ctx, "geocode.resolve_all")(&err)

	byKey := make(map[string][]string, len(addresses))
	keys := make([]string, 0, len(addresses))
	for _, a := range addresses {
		key := domain.NormalizeAddress(a)
		if key == "" {
			return nil, &domain.InvalidArgumentError{Field: "address", Reason: "must be non-empty"}
		}
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], a)
	}

	resolved := make([]domain.Coordinates, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, key := range keys {
		g.Go(func() error {
			c, err := r.Resolve(gctx, byKey[key][0])
			if err != nil {
				return err
			}
			resolved[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve addresses: %w", err)
	}

	out := make(map[string]domain.Coordinates, len(addresses))
	for i, key := range keys {
		for _, a := range byKey[key] {
			out[a] = resolved[i]
		}
	}
	return out, nil
}

// Invalidate drops the cached coordinates of address.
func (r *GeocodeResolver) Invalidate(ctx context.Context, address string) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Delete(ctx, domain.NormalizeAddress(address)); err != nil {
		return fmt.Errorf("invalidate geocode %q: %w", address, err)
	}
	return nil
}
