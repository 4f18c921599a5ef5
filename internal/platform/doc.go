// Package platform provides the REST client for the host platform:
// message backfill, room state, emote catalogs, session identity,
// private-channel authorization, and message sends.
package platform
