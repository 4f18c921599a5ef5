// Package cosmetics implements the cosmetics/emote-protocol multiplexer.
//
// One WebSocket serves every held room. Rooms are registered with up to
// three external identifiers (platform user, cosmetics user, emote set);
// any identifier that is empty, zero, or a placeholder is skipped rather
// than subscribed. Emote-set events route to their owning room by set id;
// account-scoped events broadcast to every held room. A close code meaning
// "no usable external identifiers" is a permanent rejection, never retried.
package cosmetics
