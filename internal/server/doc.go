// Package server implements the HTTP and WebSocket transport for roomchat.
//
// The hub owns a chat.Engine and is the single goroutine that applies client
// events to it. Clients decode frames into chat events and submit them to the
// hub; the hub delivers the engine's broadcasts onto per-client send queues.
// The remaining files cover configuration, logging, origin checks, routing
// and server lifecycle.
package server
