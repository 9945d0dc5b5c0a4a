// Package realtime implements the reconnecting duplex channel to the hub.
//
// STATE MACHINE:
//
//	Disconnected --Connect--> Connecting --ok--> Connected
//	Connecting   --fail-->    Reconnecting(1)
//	Connected    --lost-->    Reconnecting(1)
//	Reconnecting(n) --fail--> Reconnecting(n+1)   (delay = baseDelay * (n+1))
//	Reconnecting(maxAttempts) --fail--> Disconnected (exhausted, terminal)
//	any --Disconnect--> Disconnected
//
// Backoff is linear, not exponential: the n-th reconnect attempt waits
// baseDelay*n. Once the maxAttempts-th reconnect fails the transport stays
// Disconnected until Connect is called again; it never retries silently.
//
// Inbound frames are decoded as protocol envelopes and handed to the
// onMessage callback on the read goroutine. Malformed frames are logged and
// dropped; the channel stays open. Send is fire-and-forget and drops the
// event when not Connected.
package realtime
