package types

import "time"

// SwipeStep is the pause between interpolated move events for backends that
// synthesise swipes from raw touch events.
const SwipeStep = 10 * time.Millisecond

// SwipePath returns the intermediate points of a straight swipe from
// (x1, y1) to (x2, y2) lasting d, one per SwipeStep. The start point is not
// included and the last point is always the end point.
func SwipePath(x1, y1, x2, y2 int, d time.Duration) []Point {
	steps := int(d / SwipeStep)
	if steps < 1 {
		steps = 1
	}
	pts := make([]Point, steps)
	for i := 1; i <= steps; i++ {
		pts[i-1] = Point{
			X: x1 + (x2-x1)*i/steps,
			Y: y1 + (y2-y1)*i/steps,
		}
	}
	return pts
}
