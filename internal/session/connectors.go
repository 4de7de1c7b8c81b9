package session

import (
	"context"
	"log"

	"boardsync/internal/geometry"
	"boardsync/internal/model"
	"boardsync/internal/routing"
)

// ConnectorRoute is one connector's computed orthogonal path.
type ConnectorRoute struct {
	ElementID string
	Path      geometry.Path
}

// RouteConnectors recomputes the path of every live connector on the board.
// Endpoints bound to an element attach at the midpoint of the resolved side;
// auto sides resolve toward the far endpoint with hysteresis, so a connector
// keeps its side while the elements jitter near a diagonal. Non-connector
// elements are obstacles; the two bound elements get the smaller clearance.
// Paths are computed on the routing pool, in board z-order.
func (s *Session) RouteConnectors(ctx context.Context) []ConnectorRoute {
	elements := s.doc.Materialize(false)

	byID := make(map[string]*model.Element, len(elements))
	var solids []*model.Element
	var connectors []*model.Element
	for _, element := range elements {
		byID[element.ID] = element
		if element.ElementType == model.TypeConnector {
			connectors = append(connectors, element)
		} else {
			solids = append(solids, element)
		}
	}

	routes := make([]ConnectorRoute, 0, len(connectors))
	for _, connector := range connectors {
		start, ok := s.resolveEndpoint(connector, "start", byID)
		if !ok {
			continue
		}
		end, ok := s.resolveEndpoint(connector, "end", byID)
		if !ok {
			continue
		}

		obstacles := make([]geometry.Obstacle, 0, len(solids))
		for _, solid := range solids {
			obstacles = append(obstacles, geometry.Obstacle{
				Rect:  elementRect(solid),
				Bound: solid.ID == start.target || solid.ID == end.target,
			})
		}

		// Routing runs between the stub points just outside the padded
		// bound shapes; the anchors themselves sit inside that clearance
		// and are attached as terminal segments afterwards.
		path, err := s.router.RequestRoute(ctx, routing.Request{
			Start:     start.stub,
			End:       end.stub,
			Obstacles: obstacles,
			Options: geometry.Options{
				Padding:      s.cfg.Routing.Padding,
				BoundPadding: s.cfg.Routing.BoundPadding,
				Margin:       s.cfg.Routing.Margin,
				BendPenalty:  s.cfg.Routing.BendPenalty,
			},
		})
		if err != nil {
			log.Printf("[Session] Routing connector %s failed: %v", connector.ID, err)
			continue
		}
		routes = append(routes, ConnectorRoute{
			ElementID: connector.ID,
			Path:      attachAnchors(start, end, path),
		})
	}

	s.pruneSides(byID)
	return routes
}

// endpoint is one resolved connector end: the visible anchor, the stub the
// router actually starts from, and the bound target element (empty when
// free).
type endpoint struct {
	anchor geometry.Point
	stub   geometry.Point
	target string
}

// resolveEndpoint turns a connector's start/end property into an endpoint.
// Bound endpoints anchor at the target's resolved side, with the routing
// stub pushed outward by the bound clearance; free endpoints are their raw
// point. Returns ok=false when the endpoint is missing or dangling.
func (s *Session) resolveEndpoint(connector *model.Element, which string, byID map[string]*model.Element) (endpoint, bool) {
	if binding, ok := model.ParseBinding(connector.Properties[which+"Binding"]); ok {
		target, ok := byID[binding.ElementID]
		if !ok {
			return endpoint{}, false
		}
		side := binding.Side
		if side == model.SideAuto {
			side = s.resolveAutoSide(connector.ID, which, target, connector, byID)
		}
		anchor := geometry.AnchorPoint(elementRect(target), side)
		return endpoint{
			anchor: anchor,
			stub:   offsetBySide(anchor, side, s.cfg.Routing.BoundPadding),
			target: binding.ElementID,
		}, true
	}
	if point, ok := parsePoint(connector.Properties[which+"Point"]); ok {
		return endpoint{anchor: point, stub: point}, true
	}
	return endpoint{}, false
}

// attachAnchors prepends and appends the true anchor points around the
// routed stub-to-stub path.
func attachAnchors(start, end endpoint, path geometry.Path) geometry.Path {
	points := make([]geometry.Point, 0, len(path.Points)+2)
	if start.anchor != start.stub {
		points = append(points, start.anchor)
	}
	points = append(points, path.Points...)
	if end.anchor != end.stub {
		points = append(points, end.anchor)
	}
	return geometry.FinishPath(points)
}

// offsetBySide pushes a point away from the element along the side normal.
func offsetBySide(point geometry.Point, side model.Side, distance float64) geometry.Point {
	switch side {
	case model.SideTop:
		return geometry.Point{X: point.X, Y: point.Y - distance}
	case model.SideBottom:
		return geometry.Point{X: point.X, Y: point.Y + distance}
	case model.SideLeft:
		return geometry.Point{X: point.X - distance, Y: point.Y}
	default:
		return geometry.Point{X: point.X + distance, Y: point.Y}
	}
}

// resolveAutoSide picks the side of target facing the connector's other
// endpoint, keeping the previously resolved side inside the hysteresis band.
func (s *Session) resolveAutoSide(connectorID, which string, target, connector *model.Element, byID map[string]*model.Element) model.Side {
	far := s.farPoint(connector, which, byID)
	center := rectCenter(elementRect(target))

	s.mu.Lock()
	previousByEnd := s.sides[connectorID]
	previous := model.Side("")
	if previousByEnd != nil {
		previous = previousByEnd[which]
	}
	s.mu.Unlock()

	side := geometry.ResolveAutoSide(center, far, previous, s.cfg.Routing.AnchorHysteresis)

	s.mu.Lock()
	if s.sides[connectorID] == nil {
		s.sides[connectorID] = make(map[string]model.Side)
	}
	s.sides[connectorID][which] = side
	s.mu.Unlock()
	return side
}

// farPoint approximates the opposite endpoint for auto-side resolution:
// the bound target's center, or the free point, or the connector's own
// position as a last resort.
func (s *Session) farPoint(connector *model.Element, which string, byID map[string]*model.Element) geometry.Point {
	other := "end"
	if which == "end" {
		other = "start"
	}
	if binding, ok := model.ParseBinding(connector.Properties[other+"Binding"]); ok {
		if target, ok := byID[binding.ElementID]; ok {
			return rectCenter(elementRect(target))
		}
	}
	if point, ok := parsePoint(connector.Properties[other+"Point"]); ok {
		return point
	}
	return geometry.Point{X: connector.PositionX, Y: connector.PositionY}
}

// pruneSides drops hysteresis state for connectors no longer on the board.
func (s *Session) pruneSides(byID map[string]*model.Element) {
	s.mu.Lock()
	for id := range s.sides {
		if _, ok := byID[id]; !ok {
			delete(s.sides, id)
		}
	}
	s.mu.Unlock()
}

func elementRect(element *model.Element) geometry.Rect {
	return geometry.Rect{
		X:      element.PositionX,
		Y:      element.PositionY,
		Width:  element.Width,
		Height: element.Height,
	}
}

func rectCenter(rect geometry.Rect) geometry.Point {
	return geometry.Point{X: rect.X + rect.Width/2, Y: rect.Y + rect.Height/2}
}

func parsePoint(raw any) (geometry.Point, bool) {
	object, ok := raw.(map[string]any)
	if !ok {
		return geometry.Point{}, false
	}
	x, okX := object["x"].(float64)
	y, okY := object["y"].(float64)
	if !okX || !okY {
		return geometry.Point{}, false
	}
	return geometry.Point{X: x, Y: y}, true
}
