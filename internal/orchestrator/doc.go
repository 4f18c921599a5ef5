// Package orchestrator composes the chat and cosmetics multiplexers. It
// admits rooms in prioritized, batched, staggered waves, owns the shared
// emote and cosmetics caches, and routes protocol events into the outbox
// and emote reconciler.
package orchestrator
