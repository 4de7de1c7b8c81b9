package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"boardsync/internal/model"
)

// Client is the REST implementation of ElementAPI, speaking to the board
// backend's /api/boards/{board_id}/elements surface.
type Client struct {
	baseURL string
	boardID string
	token   string
	http    *http.Client
}

// NewClient creates a REST client for one board. baseURL is the backend
// origin, e.g. "https://api.example.com".
func NewClient(baseURL, boardID, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		boardID: boardID,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createRequest struct {
	ID          string         `json:"id,omitempty"`
	ElementType string         `json:"element_type"`
	PositionX   float64        `json:"position_x"`
	PositionY   float64        `json:"position_y"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	Rotation    *float64       `json:"rotation,omitempty"`
	LayerID     *string        `json:"layer_id,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Style       map[string]any `json:"style,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type updateRequest struct {
	ExpectedVersion int            `json:"expected_version"`
	PositionX       *float64       `json:"position_x,omitempty"`
	PositionY       *float64       `json:"position_y,omitempty"`
	Width           *float64       `json:"width,omitempty"`
	Height          *float64       `json:"height,omitempty"`
	Rotation        *float64       `json:"rotation,omitempty"`
	ZIndex          *int           `json:"z_index,omitempty"`
	LayerID         *string        `json:"layer_id,omitempty"`
	ParentID        *string        `json:"parent_id,omitempty"`
	Style           map[string]any `json:"style,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type elementResponse struct {
	ID        string     `json:"id"`
	Version   int        `json:"version"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type deleteResponse struct {
	ID             string     `json:"id"`
	Version        int        `json:"version"`
	DeletedAt      *time.Time `json:"deleted_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	AlreadyDeleted *bool      `json:"already_deleted"`
}

type restoreResponse struct {
	ID        string     `json:"id"`
	Version   int        `json:"version"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// errorEnvelope matches the backend rejection body.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) elementsURL(parts ...string) string {
	segments := append([]string{c.baseURL, "api", "boards", c.boardID, "elements"}, parts...)
	return strings.Join(segments, "/")
}

// Create persists a new element. The provisional client id is passed along;
// the backend may honor it or assign its own.
func (c *Client) Create(ctx context.Context, element *model.Element) (*CreateResult, error) {
	rotation := element.Rotation
	body := createRequest{
		ID:          element.ID,
		ElementType: string(element.ElementType),
		PositionX:   element.PositionX,
		PositionY:   element.PositionY,
		Width:       element.Width,
		Height:      element.Height,
		Rotation:    &rotation,
		LayerID:     element.LayerID,
		ParentID:    element.ParentID,
		Style:       element.Style,
		Properties:  element.Properties,
		Metadata:    element.Metadata,
	}
	var out elementResponse
	if err := c.do(ctx, http.MethodPost, c.elementsURL(), body, &out); err != nil {
		return nil, err
	}
	return &CreateResult{
		ID:        out.ID,
		Version:   out.Version,
		CreatedAt: out.CreatedAt,
		UpdatedAt: out.UpdatedAt,
	}, nil
}

// Update persists a sparse patch guarded by expected_version.
func (c *Client) Update(ctx context.Context, id string, expectedVersion int, patch *model.ElementPatch) (*UpdateResult, error) {
	body := updateRequest{
		ExpectedVersion: expectedVersion,
		PositionX:       patch.PositionX,
		PositionY:       patch.PositionY,
		Width:           patch.Width,
		Height:          patch.Height,
		Rotation:        patch.Rotation,
		ZIndex:          patch.ZIndex,
		LayerID:         patch.LayerID,
		ParentID:        patch.ParentID,
		Style:           patch.Style,
		Properties:      patch.Properties,
		Metadata:        patch.Metadata,
	}
	var out elementResponse
	if err := c.do(ctx, http.MethodPatch, c.elementsURL(url.PathEscape(id)), body, &out); err != nil {
		return nil, err
	}
	return &UpdateResult{Version: out.Version, UpdatedAt: out.UpdatedAt}, nil
}

// Delete tombstones the element, guarded by expected_version as a query
// parameter.
func (c *Client) Delete(ctx context.Context, id string, expectedVersion int) (*DeleteResult, error) {
	target := c.elementsURL(url.PathEscape(id)) + "?expected_version=" + strconv.Itoa(expectedVersion)
	var out deleteResponse
	if err := c.do(ctx, http.MethodDelete, target, nil, &out); err != nil {
		return nil, err
	}
	return &DeleteResult{
		Version:        out.Version,
		DeletedAt:      out.DeletedAt,
		UpdatedAt:      out.UpdatedAt,
		AlreadyDeleted: out.AlreadyDeleted != nil && *out.AlreadyDeleted,
	}, nil
}

// Restore clears the tombstone, guarded by expected_version.
func (c *Client) Restore(ctx context.Context, id string, expectedVersion int) (*RestoreResult, error) {
	target := c.elementsURL(url.PathEscape(id), "restore") + "?expected_version=" + strconv.Itoa(expectedVersion)
	var out restoreResponse
	if err := c.do(ctx, http.MethodPost, target, nil, &out); err != nil {
		return nil, err
	}
	return &RestoreResult{Version: out.Version, UpdatedAt: out.UpdatedAt}, nil
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, payload)
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError maps a rejection body to an APIError, falling back to a
// status-derived code when the body is not the expected envelope.
func decodeError(status int, payload []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Code != "" {
		return &APIError{Status: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{
		Status:  status,
		Code:    fmt.Sprintf("HTTP_%d", status),
		Message: http.StatusText(status),
	}
}
