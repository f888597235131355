package distance

import (
	"context"
	"delivery-run-service/internal/domain"
)

// StaticLeg is one directed leg between two known locations.
type StaticLeg struct {
	From, To domain.Coordinates
	Meters   int
	Seconds  int
}

// StaticMatrixProvider serves legs from a fixed table, for tests and demos.
// Legs from a point to itself are zero; any other missing leg fails the
// matrix the way an incomplete upstream response would.
type StaticMatrixProvider struct {
	legs map[[2]domain.Coordinates]domain.Leg
}

func NewStaticMatrixProvider(legs []StaticLeg) *StaticMatrixProvider {
	m := make(map[[2]domain.Coordinates]domain.Leg, len(legs))
	for _, l := range legs {
		m[[2]domain.Coordinates{l.From, l.To}] = domain.Leg{DistanceMeters: l.Meters, DurationSeconds: l.Seconds}
	}
	return &StaticMatrixProvider{legs: m}
}

func (p *StaticMatrixProvider) Matrix(ctx context.Context, points []domain.Coordinates) (domain.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := domain.NewMatrix(len(points))
	for i, a := range points {
		for j, b := range points {
			if a == b {
				continue
			}
			leg, ok := p.legs[[2]domain.Coordinates{a, b}]
			if !ok {
				return nil, &domain.MatrixError{From: i, To: j}
			}
			m[i][j] = leg
		}
	}
	return m, nil
}
