// Package fusion combines independent floor estimates into one,
// confidence-weighted and with statistical outliers rejected. It serves
// the fallback path only; a hardware barometer estimate bypasses fusion
// entirely.
package fusion

import (
	"math"
	"sort"
	"strings"

	"github.com/floorsense/floorsense/pkg"
	"github.com/floorsense/floorsense/pkg/baro"
)

// maxFloorDeviation is how many floors an estimate may deviate from the
// group median before it is rejected as an outlier.
const maxFloorDeviation = 2

// FilterOutliers removes error-tagged estimates, then rejects estimates
// whose floor deviates from the group median by more than
// maxFloorDeviation. The median member itself always survives, so the
// result is non-empty whenever at least one valid estimate came in.
func FilterOutliers(estimates []pkg.FloorEstimate) []pkg.FloorEstimate {
	valid := make([]pkg.FloorEstimate, 0, len(estimates))
	for _, e := range estimates {
		if !e.Failed() {
			valid = append(valid, e)
		}
	}
	if len(valid) < 3 {
		// With fewer than three sources there is no meaningful vote.
		return valid
	}

	floors := make([]int, len(valid))
	for i, e := range valid {
		floors[i] = e.Floor
	}
	sort.Ints(floors)
	median := floors[len(floors)/2]

	kept := valid[:0]
	for _, e := range valid {
		if abs(e.Floor-median) <= maxFloorDeviation {
			kept = append(kept, e)
		}
	}
	return kept
}

// Fuse computes the confidence-weighted combination of the given
// estimates. An empty input yields an error-tagged estimate rather than a
// panic or a fabricated value. Output confidence scales with cross-source
// agreement: unanimous floors keep the weighted mean confidence, spread
// floors attenuate it.
func Fuse(estimates []pkg.FloorEstimate, floorHeightM float64) pkg.FloorEstimate {
	if floorHeightM <= 0 {
		floorHeightM = pkg.DefaultFloorHeightM
	}
	if len(estimates) == 0 {
		return pkg.ErrorEstimate("fusion", "no valid floor detection results")
	}

	var weightSum, floorSum, altSum, confSum float64
	minFloor, maxFloor := estimates[0].Floor, estimates[0].Floor
	methods := make([]string, 0, len(estimates))
	for _, e := range estimates {
		weightSum += e.Confidence
		floorSum += float64(e.Floor) * e.Confidence
		altSum += e.AltitudeM * e.Confidence
		confSum += e.Confidence
		if e.Floor < minFloor {
			minFloor = e.Floor
		}
		if e.Floor > maxFloor {
			maxFloor = e.Floor
		}
		methods = append(methods, e.Method)
	}
	if weightSum <= 0 {
		return pkg.ErrorEstimate("fusion", "all sources reported zero confidence")
	}

	floor := int(math.Round(floorSum / weightSum))
	altitude := altSum / weightSum
	confidence := (confSum / float64(len(estimates))) * agreement(maxFloor-minFloor)

	est := pkg.NewFloorEstimate(floor, altitude, confidence, strings.Join(methods, "+"))
	// Keep floor and altitude consistent when the weighted altitude and the
	// rounded floor drift apart by more than one floor height.
	if baro.AltitudeToFloor(altitude, floorHeightM) != floor {
		est.AltitudeM = float64(floor) * floorHeightM
	}
	return est
}

// agreement attenuates confidence as the spread between contributing
// floors grows.
func agreement(spread int) float64 {
	switch {
	case spread <= 0:
		return 1.0
	case spread == 1:
		return 0.8
	case spread == 2:
		return 0.6
	default:
		return 0.4
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
