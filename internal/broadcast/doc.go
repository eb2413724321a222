// Package broadcast implements a bounded, lossy, multi-consumer broadcast channel.
//
// Every receiver sees every value sent after it subscribed, in send order,
// unless it falls more than the channel capacity behind. A lagging receiver
// never slows the sender down: it gets a *LaggedError telling it how many
// values it missed and then resumes from the oldest value still buffered.
package broadcast
