package services

import (
	"delivery-run-service/internal/domain"
	"fmt"
	"math"
)

// AssignStopsToDrivers partitions stops across drivers with a greedy sweep.
//
// Each step picks the driver whose route is currently shortest (by matrix
// distance, ties to the lowest driver index) and gives it the unassigned stop
// nearest to that driver's last position, or to the depot if the driver has
// nothing yet (ties to the lowest stop index). With equal route lengths the
// drivers are therefore served round-robin. Drivers at capacity are skipped;
// capacity <= 0 means unlimited.
//
// Stop i is matrix point i+1; point 0 is the depot. Returned clusters are in
// assignment order and unassigned stops in input order. The sweep makes at
// most one assignment per stop, each costing O(drivers + stops).
func AssignStopsToDrivers(
	m domain.Matrix,
	stopCount int,
	driverCount int,
	capacity int,
) (clusters [][]int, unassigned []int, err error) {
	if m.Size() != stopCount+1 {
		return nil, nil, fmt.Errorf("assign stops: matrix size %d does not match %d stops plus depot", m.Size(), stopCount)
	}

	clusters = make([][]int, driverCount)
	if driverCount == 0 {
		unassigned = make([]int, 0, stopCount)
		for s := 0; s < stopCount; s++ {
			unassigned = append(unassigned, s)
		}
		return clusters, unassigned, nil
	}

	routeMeters := make([]int, driverCount)
	lastPoint := make([]int, driverCount)
	assigned := make([]bool, stopCount)

	for placed := 0; placed < stopCount; placed++ {
		driver := -1
		for d := 0; d < driverCount; d++ {
			if capacity > 0 && len(clusters[d]) >= capacity {
				continue
			}
			// Strict comparison keeps the lowest index on ties.
			if driver == -1 || routeMeters[d] < routeMeters[driver] {
				driver = d
			}
		}
		if driver == -1 {
			break
		}

		from := lastPoint[driver]
		best := -1
		bestMeters := math.MaxInt
		for s := 0; s < stopCount; s++ {
			if assigned[s] {
				continue
			}
			if meters := m.At(from, s+1).DistanceMeters; meters < bestMeters {
				best = s
				bestMeters = meters
			}
		}
		if best == -1 {
			return nil, nil, fmt.Errorf("assign stops: no candidate stop for driver %d", driver)
		}

		assigned[best] = true
		clusters[driver] = append(clusters[driver], best)
		routeMeters[driver] += bestMeters
		lastPoint[driver] = best + 1
	}

	for s := 0; s < stopCount; s++ {
		if !assigned[s] {
			unassigned = append(unassigned, s)
		}
	}

	return clusters, unassigned, nil
}
