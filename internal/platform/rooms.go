package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Backfill fetches the most recent messages for a room.
func (c *Client) Backfill(ctx context.Context, roomID int64) (*BackfillResponse, error) {
	var resp BackfillResponse
	path := fmt.Sprintf("/rooms/%d/messages", roomID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("backfill room %d: %w", roomID, err)
	}
	return &resp, nil
}

// BackfillBefore fetches messages older than the given cursor.
func (c *Client) BackfillBefore(ctx context.Context, roomID int64, cursor string, limit int) (*BackfillResponse, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp BackfillResponse
	path := fmt.Sprintf("/rooms/%d/messages", roomID)
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("backfill room %d: %w", roomID, err)
	}
	return &resp, nil
}

// RoomState fetches a room's chat modes, pinned message, and live session.
func (c *Client) RoomState(ctx context.Context, roomID int64) (*RoomStateResponse, error) {
	var resp RoomStateResponse
	path := fmt.Sprintf("/rooms/%d/state", roomID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("room state %d: %w", roomID, err)
	}
	return &resp, nil
}

// SendMessage posts one chat message to a room.
func (c *Client) SendMessage(ctx context.Context, roomID int64, content, kind string, meta map[string]string) error {
	path := fmt.Sprintf("/rooms/%d/messages", roomID)
	req := sendMessageRequest{Content: content, Type: kind, Metadata: meta}
	if err := c.post(ctx, path, req, nil); err != nil {
		return fmt.Errorf("send message room %d: %w", roomID, err)
	}
	return nil
}
