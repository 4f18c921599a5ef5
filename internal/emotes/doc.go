// Package emotes applies incremental emote set diffs to locally cached
// collections and produces change summaries for activity feeds.
package emotes
