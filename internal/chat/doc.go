// Package chat implements the room and session coordination engine for
// roomchat.
//
// The engine keeps three relations consistent under a stream of connect,
// identify, join, leave, send and disconnect events: which display name owns
// which connection, which rooms a connection has joined, and which
// connections (plus message history) belong to a room. Rooms are derived
// state: they exist while they have at least one member.
//
// The package has no transport dependency. Engine.Handle consumes one Event
// for one connection and returns the Broadcasts the transport must deliver,
// with recipients already resolved from the post-event state.
package chat
