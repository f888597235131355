package distance

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"fmt"
	"math"
	"net/http"
)

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Destinations []int       `json:"destinations,omitempty"`
	Metrics      []string    `json:"metrics"`
	Sources      []int       `json:"sources"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// Matrix computes the full point x point matrix. All points are sent as
// locations on every request; source rows are batched so that each request
// stays within the element limit. A missing cell fails the whole matrix.
func (o *ORSClient) Matrix(ctx context.Context, points []domain.Coordinates) (_ domain.Matrix, err error) {
	defer obs.Time(ctx, "ors.matrix")(&err)

	n := len(points)
	if n == 0 {
		return domain.Matrix{}, nil
	}

	locations := make([][]float64, 0, n)
	for _, p := range points {
		locations = append(locations, p.CoordsToList())
	}

	rowsPerRequest := max(1, o.maxElements/n)

	m := domain.NewMatrix(n)
	for first := 0; first < n; first += rowsPerRequest {
		last := min(first+rowsPerRequest, n)

		sources := make([]int, 0, last-first)
		for i := first; i < last; i++ {
			sources = append(sources, i)
		}

		if err := o.fetchMatrixRows(ctx, locations, sources, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// fetchMatrixRows fills the rows of m named by sources.
func (o *ORSClient) fetchMatrixRows(
	ctx context.Context,
	locations [][]float64,
	sources []int,
	m domain.Matrix,
) error {
	var mr matrixResponse
	call := orsCall{
		method: http.MethodPost,
		path:   "/v2/matrix/" + o.profile,
		body: matrixRequest{
			Locations: locations,
			Metrics:   []string{"distance", "duration"},
			Sources:   sources,
		},
	}
	if err := o.call(ctx, call, &mr); err != nil {
		return &domain.MatrixError{From: -1, To: -1, Cause: err}
	}

	if len(mr.Distances) != len(sources) || len(mr.Durations) != len(sources) {
		return &domain.MatrixError{From: -1, To: -1, Cause: fmt.Errorf(
			"expected %d source rows; got distances=%d durations=%d",
			len(sources), len(mr.Distances), len(mr.Durations),
		)}
	}

	n := len(locations)
	for r, from := range sources {
		distances, durations := mr.Distances[r], mr.Durations[r]
		if len(distances) != n || len(durations) != n {
			return &domain.MatrixError{From: from, To: -1, Cause: fmt.Errorf(
				"row has distances=%d durations=%d, want %d", len(distances), len(durations), n,
			)}
		}

		for to := range n {
			if distances[to] == nil || durations[to] == nil {
				return &domain.MatrixError{From: from, To: to}
			}
			// ORS returns float metrics; round to whole metres and seconds.
			m[from][to] = domain.Leg{
				DistanceMeters:  int(math.Round(*distances[to])),
				DurationSeconds: int(math.Round(*durations[to])),
			}
		}
	}

	return nil
}
