// Package chat implements the chat-protocol multiplexer.
//
// One pusher-style WebSocket serves every held room. The multiplexer owns
// room membership, derives the channel-name variants each room may be
// addressed by, subscribes them on socket open, and routes inbound frames
// back to rooms through an ordered list of resolvers. Removing the last
// room closes the socket; adding the first room opens a fresh one.
package chat
