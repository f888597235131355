package ports

import (
	"context"
	"delivery-run-service/internal/domain"
)

// Contract for computing travel legs between every ordered pair of points.
type DistanceMatrixProvider interface {
	// Return a square matrix aligned with points. Implementations fail with
	// an error wrapping domain.ErrMatrixUnavailable if any leg is missing;
	// partial matrices are never returned.
	Matrix(ctx context.Context, points []domain.Coordinates) (domain.Matrix, error)
}
