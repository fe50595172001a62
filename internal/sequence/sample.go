package sequence

import (
	"math"

	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/route"
)

// EffectiveSpacing widens the requested spacing so that a route never yields
// more than maxPoints samples.
func EffectiveSpacing(total, spacing float64, maxPoints int) float64 {
	if maxPoints <= 0 {
		return spacing
	}
	return math.Max(spacing, total/float64(maxPoints))
}

// Sample walks the route path and returns evenly spaced points. The distance
// still to travel before the next point is carried across vertices, so the
// spacing holds regardless of vertex density. The first and last path points
// are always included; when the final gap would be under half a step the
// route end takes the place of the last sample. For a route of length D the
// result has between floor(D/step)+1 and maxPoints+1 points.
func Sample(r *route.Route, spacing float64, maxPoints int) []geo.Point {
	path := r.Path
	step := EffectiveSpacing(r.TotalDistance(), spacing, maxPoints)
	if len(path) < 2 || step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		out := make([]geo.Point, len(path))
		copy(out, path)
		return out
	}

	points := []geo.Point{path[0]}
	need := step

	for i := 0; i+1 < len(path); i++ {
		a, b := path[i], path[i+1]
		d := geo.Distance(a, b)

		pos := 0.0
		for d-pos >= need {
			pos += need
			points = append(points, geo.Interpolate(pos/d, a, b))
			need = step
		}
		need -= d - pos
	}

	end := path[len(path)-1]
	if tail := step - need; tail < step/2 && len(points) > 1 {
		points[len(points)-1] = end
	} else {
		points = append(points, end)
	}
	return points
}
