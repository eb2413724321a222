// Package client connects to a notify server's WebSocket endpoint and
// delivers every frame it receives.
//
// Frames are passed through untouched: binary frames carry public or
// payment payloads, text frames carry portfolio change signals. The client
// answers server pings and reports a stale connection when pings stop.
package client
