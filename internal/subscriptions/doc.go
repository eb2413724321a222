// Package subscriptions implements the notification registry that fans events
// out to connected clients.
//
// The Registry holds three independent channel families:
//   - Portfolio: per-user single-slot "your portfolio changed" signal (watch)
//   - Public: one global broadcast of serialized market and order events
//   - Payments: per-user broadcast of serialized payment events
//
// Per-user entries are created lazily on first subscribe and are never
// removed, so memory grows with the number of distinct users that connected
// during the process lifetime. Sends to a user without an entry are dropped.
package subscriptions
