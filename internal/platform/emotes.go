package platform

import (
	"context"
	"fmt"
)

// ChannelEmotes fetches the emote sets available in a channel.
func (c *Client) ChannelEmotes(ctx context.Context, channel string) (*ChannelEmotesResponse, error) {
	var resp ChannelEmotesResponse
	if err := c.get(ctx, "/channels/"+channel+"/emotes", nil, &resp); err != nil {
		return nil, fmt.Errorf("channel emotes %s: %w", channel, err)
	}
	return &resp, nil
}

// CosmeticsCatalog fetches the global badge and paint catalog.
func (c *Client) CosmeticsCatalog(ctx context.Context) (*CosmeticsCatalogResponse, error) {
	var resp CosmeticsCatalogResponse
	if err := c.get(ctx, "/cosmetics", nil, &resp); err != nil {
		return nil, fmt.Errorf("cosmetics catalog: %w", err)
	}
	return &resp, nil
}
