// Package connection implements the resilient link to the sale gateway.
//
// A Manager owns at most one live session at a time. Each session runs a
// keep-alive Monitor (periodic probe plus pong deadline) and is replaced
// through the reconnection scheduler with exponential backoff when it is
// lost. The Manager is the stable handle for upper layers: its Messages
// channel survives reconnects, and every message is tagged with the
// identity of the session it arrived on.
package connection
