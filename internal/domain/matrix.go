package domain

import "fmt"

// Leg is the travel distance and duration from one point to another.
type Leg struct {
	DistanceMeters  int
	DurationSeconds int
}

// Matrix holds a Leg for every ordered pair of points. Index 0 is the depot
// by convention of the optimizer; road travel is directional so At(i, j)
// and At(j, i) may differ.
type Matrix [][]Leg

// NewMatrix allocates an n x n matrix of zero legs.
func NewMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]Leg, n)
	}
	return m
}

func (m Matrix) Size() int { return len(m) }

func (m Matrix) At(i, j int) Leg { return m[i][j] }

// Validate checks that the matrix is square with non-negative legs.
func (m Matrix) Validate() error {
	n := len(m)
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("matrix: row %d has %d columns, want %d", i, len(row), n)
		}
		for j, leg := range row {
			if leg.DistanceMeters < 0 || leg.DurationSeconds < 0 {
				return fmt.Errorf("matrix: negative leg at (%d,%d)", i, j)
			}
		}
	}
	return nil
}
