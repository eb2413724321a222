// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Registry entries per family and publish/discard counts
//   - Receivers that lagged and how many messages they missed
//   - WebSocket session counts and write failures
//   - Feed notifications received, routed and rejected
package metrics
