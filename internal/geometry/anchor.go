package geometry

import (
	"math"

	"boardsync/internal/model"
)

// AnchorPoint returns the midpoint of the given side of a rect, where a
// bound connector endpoint attaches.
func AnchorPoint(rect Rect, side model.Side) Point {
	switch side {
	case model.SideTop:
		return Point{X: rect.X + rect.Width/2, Y: rect.Y}
	case model.SideBottom:
		return Point{X: rect.X + rect.Width/2, Y: rect.maxY()}
	case model.SideLeft:
		return Point{X: rect.X, Y: rect.Y + rect.Height/2}
	default: // right, and the fallback for auto that was not resolved
		return Point{X: rect.maxX(), Y: rect.Y + rect.Height/2}
	}
}

// ResolveAutoSide picks the side of a bound element facing the far endpoint.
// When a previously resolved side is supplied, the axis only flips once the
// off-axis component exceeds the on-axis one by the hysteresis ratio, so a
// connector hovering near a diagonal does not flicker between sides.
func ResolveAutoSide(center, far Point, previous model.Side, hysteresis float64) model.Side {
	dx := far.X - center.X
	dy := far.Y - center.Y
	absX := math.Abs(dx)
	absY := math.Abs(dy)

	switch previous {
	case model.SideLeft, model.SideRight:
		if absY <= absX*(1+hysteresis) {
			return horizontalSide(dx)
		}
		return verticalSide(dy)
	case model.SideTop, model.SideBottom:
		if absX <= absY*(1+hysteresis) {
			return verticalSide(dy)
		}
		return horizontalSide(dx)
	}

	if absX >= absY {
		return horizontalSide(dx)
	}
	return verticalSide(dy)
}

func horizontalSide(dx float64) model.Side {
	if dx < 0 {
		return model.SideLeft
	}
	return model.SideRight
}

func verticalSide(dy float64) model.Side {
	if dy < 0 {
		return model.SideTop
	}
	return model.SideBottom
}
