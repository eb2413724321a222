// Package server exposes the subscription registry over WebSocket.
//
// Each connection on /ws becomes a session. Every session subscribes to the
// public channel; sessions that carry a user identity also subscribe to that
// user's portfolio signal and payment channel. Public and payment payloads
// are written as binary frames exactly as published. Portfolio signals are
// rendered to a text frame.
//
// A slow client never slows down publishers. Its receivers fall behind,
// report how many messages were skipped, and continue from the oldest
// message still retained.
package server
