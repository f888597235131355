package distance

import (
	"context"
	"delivery-run-service/internal/domain"
	"math"
)

const (
	earthRadiusMeters = 6_371_000.0

	DefaultRoadFactor = 1.3
	DefaultSpeedKmh   = 40.0
)

// HaversineMatrixProvider estimates road legs from great-circle distance,
// inflated by a road factor and driven at a constant speed. It needs no
// network and never fails, which makes it the fallback when no routing API
// is configured.
type HaversineMatrixProvider struct {
	RoadFactor float64
	SpeedKmh   float64
}

func NewHaversineMatrixProvider() *HaversineMatrixProvider {
	return &HaversineMatrixProvider{RoadFactor: DefaultRoadFactor, SpeedKmh: DefaultSpeedKmh}
}

func (h *HaversineMatrixProvider) Matrix(ctx context.Context, points []domain.Coordinates) (domain.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	factor, speed := h.RoadFactor, h.SpeedKmh
	if factor <= 0 {
		factor = DefaultRoadFactor
	}
	if speed <= 0 {
		speed = DefaultSpeedKmh
	}
	metersPerSecond := speed * 1000 / 3600

	m := domain.NewMatrix(len(points))
	for i, a := range points {
		for j, b := range points {
			if i == j {
				continue
			}
			meters := greatCircleMeters(a, b) * factor
			m[i][j] = domain.Leg{
				DistanceMeters:  int(math.Round(meters)),
				DurationSeconds: int(math.Round(meters / metersPerSecond)),
			}
		}
	}
	return m, nil
}

func greatCircleMeters(a, b domain.Coordinates) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
