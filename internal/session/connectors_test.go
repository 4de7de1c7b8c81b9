package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/config"
	"boardsync/internal/document"
	"boardsync/internal/model"
	"boardsync/internal/routing"
)

// layoutSession builds a session with just the pieces connector layout
// touches; no socket involved. The routing pool is left stopped, so routes
// compute synchronously.
func layoutSession() *Session {
	cfg := &config.Config{
		Routing: config.RoutingConfig{
			Workers: 1, QueueSize: 1,
			Padding: 16, BoundPadding: 8, Margin: 64,
			BendPenalty: 10, AnchorHysteresis: 0.25,
		},
	}
	return &Session{
		cfg:    cfg,
		doc:    document.New(),
		router: routing.NewAdapter(cfg.Routing.Workers, cfg.Routing.QueueSize),
		sides:  make(map[string]map[string]model.Side),
	}
}

func boundConnector(id, startTarget, endTarget string) *model.Element {
	return &model.Element{
		ID: id, ElementType: model.TypeConnector,
		PositionX: 0, PositionY: 0, Width: 1, Height: 1,
		Properties: map[string]any{
			"startBinding": map[string]any{"elementId": startTarget, "side": "auto"},
			"endBinding":   map[string]any{"elementId": endTarget, "side": "auto"},
		},
	}
}

// TestRouteConnectorsBound verifies a connector between two elements anchors
// on the facing sides and yields an orthogonal path between them.
func TestRouteConnectorsBound(t *testing.T) {
	s := layoutSession()
	left := &model.Element{ID: "left", ElementType: model.TypeShape, PositionX: 0, PositionY: 0, Width: 100, Height: 100}
	right := &model.Element{ID: "right", ElementType: model.TypeShape, PositionX: 400, PositionY: 0, Width: 100, Height: 100}
	s.doc.Create(left)
	s.doc.Create(right)
	s.doc.Create(boundConnector("c1", "left", "right"))

	routes := s.RouteConnectors(context.Background())
	require.Len(t, routes, 1)
	points := routes[0].Path.Points
	require.NotEmpty(t, points)

	// Anchored at the right side of "left" and left side of "right".
	assert.Equal(t, 100.0, points[0].X)
	assert.Equal(t, 50.0, points[0].Y)
	assert.Equal(t, 400.0, points[len(points)-1].X)
	assert.Equal(t, 50.0, points[len(points)-1].Y)
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].X == points[i].X || points[i-1].Y == points[i].Y)
	}

	// Auto sides were resolved and cached for hysteresis.
	assert.Equal(t, model.SideRight, s.sides["c1"]["start"])
	assert.Equal(t, model.SideLeft, s.sides["c1"]["end"])
}

// TestRouteConnectorsFreeEndpoint verifies a connector with a raw point
// endpoint routes from that point.
func TestRouteConnectorsFreeEndpoint(t *testing.T) {
	s := layoutSession()
	target := &model.Element{ID: "box", ElementType: model.TypeShape, PositionX: 200, PositionY: 200, Width: 50, Height: 50}
	s.doc.Create(target)
	s.doc.Create(&model.Element{
		ID: "c1", ElementType: model.TypeConnector,
		PositionX: 0, PositionY: 0, Width: 1, Height: 1,
		Properties: map[string]any{
			"startPoint": map[string]any{"x": 10.0, "y": 10.0},
			"endBinding": map[string]any{"elementId": "box", "side": "top"},
		},
	})

	routes := s.RouteConnectors(context.Background())
	require.Len(t, routes, 1)
	points := routes[0].Path.Points
	assert.Equal(t, 10.0, points[0].X)
	assert.Equal(t, 225.0, points[len(points)-1].X, "top anchor midpoint")
	assert.Equal(t, 200.0, points[len(points)-1].Y)
}

// TestRouteConnectorsDangling verifies a binding to a missing element skips
// the connector instead of failing the pass, and stale hysteresis state is
// pruned.
func TestRouteConnectorsDangling(t *testing.T) {
	s := layoutSession()
	s.sides["gone"] = map[string]model.Side{"start": model.SideLeft}
	s.doc.Create(boundConnector("c1", "ghost-a", "ghost-b"))

	routes := s.RouteConnectors(context.Background())
	assert.Empty(t, routes)
	assert.NotContains(t, s.sides, "gone")
}
