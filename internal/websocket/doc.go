// Package websocket streams chat messages to connected browsers. Each
// client subscribes to one topic (a chat session id) and receives every
// message published to it.
package websocket
