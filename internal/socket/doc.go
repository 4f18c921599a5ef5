// Package socket implements the resilient WebSocket wrapper shared by both
// protocol multiplexers.
//
// A Socket provides:
//   - heartbeat with stale-connection detection
//   - reconnection with a pluggable backoff strategy
//   - a circuit breaker that blocks dials after repeated failure
//   - a bounded outbound queue replayed on the next successful open
//
// A Socket is single-use: Disconnect is the only terminal exit and disables
// all further reconnection. Callers that need a fresh connection after a
// manual disconnect create a new Socket.
package socket
