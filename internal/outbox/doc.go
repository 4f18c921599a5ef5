// Package outbox coordinates optimistic message sending: entries appear
// locally before the server confirms them, reconcile against inbound
// confirmations, and fail when rejected or timed out.
package outbox
