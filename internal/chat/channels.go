package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// channelVariants derives every chatroom-scoped channel-name form a room
// may be addressed by. Upstream is inconsistent about dotted vs underscored
// and versioned names, so all of them are held per room.
func channelVariants(roomID int64) []string {
	return []string{
		fmt.Sprintf("chatrooms.%d.v2", roomID),
		fmt.Sprintf("chatrooms.%d", roomID),
		fmt.Sprintf("chatroom_%d", roomID),
	}
}

// ownerChannels are the channel-owner-scoped names subscribed per room.
// Inbound frames on these resolve through the owner-id routing rule rather
// than the variant table.
func ownerChannels(ownerID int64) []string {
	return []string{
		fmt.Sprintf("channel.%d", ownerID),
		fmt.Sprintf("channel_%d", ownerID),
	}
}

// privateRoomChannel is the auth-gated per-room channel, subscribed only
// when an auth minter is available.
func privateRoomChannel(roomID int64) string {
	return fmt.Sprintf("private-chatroom_%d", roomID)
}

// globalChannels are the account-scoped channels subscribed once per socket.
func globalChannels(userID int64) []string {
	return []string{
		fmt.Sprintf("private-userfeed.%d", userID),
		fmt.Sprintf("private-App.User.%d", userID),
	}
}

func isPrivate(channel string) bool {
	return strings.HasPrefix(channel, "private-")
}

// parseOwnerChannel extracts the channel-owner id from channel.{id} or
// channel_{id} forms.
func parseOwnerChannel(channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, "channel.")
	if !ok {
		rest, ok = strings.CutPrefix(channel, "channel_")
	}
	if !ok {
		return 0, false
	}
	return parseID(rest)
}

// parseLivestreamChannel extracts the live session id from
// livestream.{id}, livestream_{id}, and their private- forms.
func parseLivestreamChannel(channel string) (int64, bool) {
	channel = strings.TrimPrefix(channel, "private-")
	rest, ok := strings.CutPrefix(channel, "livestream.")
	if !ok {
		rest, ok = strings.CutPrefix(channel, "livestream_")
	}
	if !ok {
		return 0, false
	}
	return parseID(rest)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
