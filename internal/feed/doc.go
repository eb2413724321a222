// Package feed turns Postgres notifications into registry publishes.
//
// The Listener holds one dedicated connection that LISTENs on the configured
// channels and forwards every notification to a buffered channel. The Router
// drains that channel and dispatches by channel name:
//
//	public channel     payload is broadcast verbatim to every public receiver
//	portfolio channel  payload is a user id whose portfolio subscribers are signalled
//	payment channel    payload is {"user_id": "...", "payload": <json>}
//
// Database triggers publish with pg_notify; nothing in this package writes.
package feed
