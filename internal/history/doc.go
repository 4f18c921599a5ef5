// Package history implements the batch writer for confirmed chat
// messages. Writes are fire-and-forget: callers never block, and
// overflow drops with a warning.
//
// Inserts are append-only with ON CONFLICT DO NOTHING on the server
// message id.
package history
