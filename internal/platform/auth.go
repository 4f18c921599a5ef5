package platform

import (
	"context"
	"fmt"
)

// Identity fetches the current session identity.
func (c *Client) Identity(ctx context.Context) (*IdentityResponse, error) {
	var resp IdentityResponse
	if err := c.get(ctx, "/user/me", nil, &resp); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return &resp, nil
}

// MintChannelAuth obtains a private-channel authorization token for the
// given channel and socket id.
func (c *Client) MintChannelAuth(ctx context.Context, channel, socketID string) (string, error) {
	var resp channelAuthResponse
	req := channelAuthRequest{Channel: channel, SocketID: socketID}
	if err := c.post(ctx, "/broadcasting/auth", req, &resp); err != nil {
		return "", fmt.Errorf("mint channel auth %s: %w", channel, err)
	}
	return resp.Auth, nil
}
