package geometry

import (
	"container/heap"
	"math"
	"sort"
)

// Point is a board coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) maxX() float64 { return r.X + r.Width }
func (r Rect) maxY() float64 { return r.Y + r.Height }

// expand grows the rect by amount on every side.
func (r Rect) expand(amount float64) Rect {
	return Rect{
		X:      r.X - amount,
		Y:      r.Y - amount,
		Width:  r.Width + 2*amount,
		Height: r.Height + 2*amount,
	}
}

// intersects reports whether two rects overlap (touching counts).
func (r Rect) intersects(other Rect) bool {
	return r.X <= other.maxX() && other.X <= r.maxX() &&
		r.Y <= other.maxY() && other.Y <= r.maxY()
}

// clip returns the intersection of two rects.
func (r Rect) clip(window Rect) Rect {
	minX := math.Max(r.X, window.X)
	minY := math.Max(r.Y, window.Y)
	maxX := math.Min(r.maxX(), window.maxX())
	maxY := math.Min(r.maxY(), window.maxY())
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

const insideEpsilon = 1e-7

// containsStrict reports whether p lies strictly inside the rect; points on
// the boundary are routable.
func (r Rect) containsStrict(p Point) bool {
	return p.X > r.X+insideEpsilon && p.X < r.maxX()-insideEpsilon &&
		p.Y > r.Y+insideEpsilon && p.Y < r.maxY()-insideEpsilon
}

// Obstacle is a rectangle the route must not cross. Bound obstacles are the
// elements the connector endpoints attach to; they get the smaller inset so
// the route can still depart from the shape cleanly.
type Obstacle struct {
	Rect  Rect
	Bound bool
}

// Options tunes routing.
type Options struct {
	Padding      float64 // clearance added around obstacles
	BoundPadding float64 // clearance for endpoint-bound obstacles
	Margin       float64 // search window expansion around the endpoints
	BendPenalty  float64 // extra cost per direction change
}

// Path is an orthogonal polyline plus its bounding box.
type Path struct {
	Points []Point `json:"points"`
	Bounds Rect    `json:"bounds"`
}

// Route computes an orthogonal path from start to end around the obstacles.
// It builds a sparse visibility grid from the padded obstacle edges inside a
// bounded window and runs A* over (node, direction) states so a bend is
// charged exactly once per turn. On any failure it degrades to an L-shaped
// two-segment path; it never errors.
func Route(start, end Point, obstacles []Obstacle, opts Options) Path {
	if start == end {
		return Path{
			Points: []Point{start, end},
			Bounds: Rect{X: start.X, Y: start.Y},
		}
	}

	window := boundingRect([]Point{start, end}).expand(opts.Margin)
	padded := make([]Rect, 0, len(obstacles))
	for _, obstacle := range obstacles {
		padding := opts.Padding
		if obstacle.Bound {
			padding = opts.BoundPadding
		}
		rect := obstacle.Rect.expand(padding)
		if !rect.intersects(window) {
			continue
		}
		rect = rect.clip(window)
		if rect.Width <= 0 || rect.Height <= 0 {
			continue
		}
		padded = append(padded, rect)
	}

	if len(padded) == 0 {
		return FinishPath([]Point{start, end})
	}

	points := searchGrid(start, end, padded, opts.BendPenalty)
	if points == nil {
		points = elbowFallback(start, end, padded)
	}
	return FinishPath(points)
}

// searchGrid runs the visibility-grid A*. Returns nil when start or end is
// not a usable node or no path exists.
func searchGrid(start, end Point, obstacles []Rect, bendPenalty float64) []Point {
	xs := gridCoordinates(start.X, end.X, obstacles, func(r Rect) (float64, float64) {
		return r.X, r.maxX()
	})
	ys := gridCoordinates(start.Y, end.Y, obstacles, func(r Rect) (float64, float64) {
		return r.Y, r.maxY()
	})

	// node ids are j*len(xs)+i; -1 marks a point inside an obstacle
	nodeAt := make([]int, len(xs)*len(ys))
	for j, y := range ys {
		for i, x := range xs {
			index := j*len(xs) + i
			if insideAny(Point{X: x, Y: y}, obstacles) {
				nodeAt[index] = -1
			} else {
				nodeAt[index] = index
			}
		}
	}

	startIndex := nodeIndex(xs, ys, start)
	endIndex := nodeIndex(xs, ys, end)
	if startIndex < 0 || endIndex < 0 || nodeAt[startIndex] < 0 || nodeAt[endIndex] < 0 {
		return nil
	}

	pointOf := func(index int) Point {
		return Point{X: xs[index%len(xs)], Y: ys[index/len(xs)]}
	}
	endPoint := pointOf(endIndex)

	// states are (node, incoming direction); starting with no direction so
	// the first segment is never charged a bend
	type stateKey struct {
		node int
		dir  byte
	}
	costs := map[stateKey]float64{{node: startIndex, dir: dirNone}: 0}
	parents := map[stateKey]stateKey{}

	queue := &stateQueue{}
	heap.Init(queue)
	heap.Push(queue, &queueState{
		node:     startIndex,
		dir:      dirNone,
		cost:     0,
		estimate: manhattan(pointOf(startIndex), endPoint),
	})

	var goal *stateKey
	for queue.Len() > 0 {
		current := heap.Pop(queue).(*queueState)
		key := stateKey{node: current.node, dir: current.dir}
		if current.cost > costs[key] {
			continue
		}
		if current.node == endIndex {
			goal = &key
			break
		}

		for _, move := range neighborMoves(current.node, xs, ys, nodeAt, obstacles) {
			cost := current.cost + move.length
			if current.dir != dirNone && current.dir != move.dir {
				cost += bendPenalty
			}
			nextKey := stateKey{node: move.node, dir: move.dir}
			if known, ok := costs[nextKey]; ok && known <= cost {
				continue
			}
			costs[nextKey] = cost
			parents[nextKey] = key
			heap.Push(queue, &queueState{
				node:     move.node,
				dir:      move.dir,
				cost:     cost,
				estimate: cost + manhattan(pointOf(move.node), endPoint),
			})
		}
	}
	if goal == nil {
		return nil
	}

	var reversed []Point
	for key := *goal; ; {
		reversed = append(reversed, pointOf(key.node))
		parent, ok := parents[key]
		if !ok {
			break
		}
		key = parent
	}
	points := make([]Point, len(reversed))
	for i := range reversed {
		points[i] = reversed[len(reversed)-1-i]
	}
	return points
}

const (
	dirNone byte = 0
	dirH    byte = 1
	dirV    byte = 2
)

type gridMove struct {
	node   int
	dir    byte
	length float64
}

// neighborMoves yields the horizontally/vertically adjacent grid nodes whose
// connecting segment does not cross an obstacle interior.
func neighborMoves(node int, xs, ys []float64, nodeAt []int, obstacles []Rect) []gridMove {
	i := node % len(xs)
	j := node / len(xs)
	point := Point{X: xs[i], Y: ys[j]}
	moves := make([]gridMove, 0, 4)

	try := func(ni, nj int, dir byte) {
		if ni < 0 || ni >= len(xs) || nj < 0 || nj >= len(ys) {
			return
		}
		next := nj*len(xs) + ni
		if nodeAt[next] < 0 {
			return
		}
		neighbor := Point{X: xs[ni], Y: ys[nj]}
		middle := Point{X: (point.X + neighbor.X) / 2, Y: (point.Y + neighbor.Y) / 2}
		if insideAny(middle, obstacles) {
			return
		}
		moves = append(moves, gridMove{
			node:   next,
			dir:    dir,
			length: math.Abs(neighbor.X-point.X) + math.Abs(neighbor.Y-point.Y),
		})
	}
	try(i-1, j, dirH)
	try(i+1, j, dirH)
	try(i, j-1, dirV)
	try(i, j+1, dirV)
	return moves
}

// gridCoordinates collects the sorted distinct coordinates of the obstacle
// edges plus both endpoints along one axis.
func gridCoordinates(a, b float64, obstacles []Rect, edges func(Rect) (float64, float64)) []float64 {
	values := []float64{a, b}
	for _, rect := range obstacles {
		low, high := edges(rect)
		values = append(values, low, high)
	}
	sort.Float64s(values)
	distinct := values[:1]
	for _, value := range values[1:] {
		if value-distinct[len(distinct)-1] > insideEpsilon {
			distinct = append(distinct, value)
		}
	}
	return distinct
}

func nodeIndex(xs, ys []float64, p Point) int {
	i := coordinateIndex(xs, p.X)
	j := coordinateIndex(ys, p.Y)
	if i < 0 || j < 0 {
		return -1
	}
	return j*len(xs) + i
}

func coordinateIndex(values []float64, target float64) int {
	for i, value := range values {
		if math.Abs(value-target) <= insideEpsilon {
			return i
		}
	}
	return -1
}

func insideAny(p Point, obstacles []Rect) bool {
	for _, rect := range obstacles {
		if rect.containsStrict(p) {
			return true
		}
	}
	return false
}

// elbowFallback returns a two-segment L path, preferring the elbow that does
// not cut through an obstacle when only one of them does.
func elbowFallback(start, end Point, obstacles []Rect) []Point {
	if start.X == end.X || start.Y == end.Y {
		return []Point{start, end}
	}
	horizontalFirst := []Point{start, {X: end.X, Y: start.Y}, end}
	verticalFirst := []Point{start, {X: start.X, Y: end.Y}, end}
	if insideAny(horizontalFirst[1], obstacles) && !insideAny(verticalFirst[1], obstacles) {
		return verticalFirst
	}
	return horizontalFirst
}

// compressCollinear drops intermediate points on straight runs, leaving only
// the bend points.
func compressCollinear(points []Point) []Point {
	if len(points) <= 2 {
		return points
	}
	compressed := []Point{points[0]}
	for i := 1; i < len(points)-1; i++ {
		previous := compressed[len(compressed)-1]
		next := points[i+1]
		sameX := previous.X == points[i].X && points[i].X == next.X
		sameY := previous.Y == points[i].Y && points[i].Y == next.Y
		if sameX || sameY {
			continue
		}
		compressed = append(compressed, points[i])
	}
	return append(compressed, points[len(points)-1])
}

// FinishPath compresses collinear runs and wraps the points with their
// bounding box.
func FinishPath(points []Point) Path {
	points = compressCollinear(points)
	return Path{Points: points, Bounds: boundingRect(points)}
}

func boundingRect(points []Point) Rect {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func manhattan(a, b Point) float64 {
	return math.Abs(a.X-b.X) + math.Abs(a.Y-b.Y)
}

// queueState is an A* frontier entry ordered by estimated total cost.
type queueState struct {
	node     int
	dir      byte
	cost     float64
	estimate float64
}

type stateQueue []*queueState

func (q stateQueue) Len() int            { return len(q) }
func (q stateQueue) Less(i, j int) bool  { return q[i].estimate < q[j].estimate }
func (q stateQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *stateQueue) Push(x any)         { *q = append(*q, x.(*queueState)) }
func (q *stateQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
