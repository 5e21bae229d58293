package playback

// SignalReadyForNext is the flow-control token asking the server for one more
// unit of generation.
const SignalReadyForNext = "ready_for_next"

// DefaultThreshold signals on every completion from the first onward.
const DefaultThreshold = 1

// Backpressure decides when a natural segment end should release one more
// unit of generation from the server.
//
// There is no outstanding-signal tracking: every qualifying end produces
// exactly one token, and the server treats each token as a request for one
// more unit. Duplicates are therefore meaningful, not noise, and are never
// suppressed here.
type Backpressure struct {
	threshold uint64
	sent      uint64
}

// NewBackpressure returns a policy that fires once the consumption count
// reaches threshold.
func NewBackpressure(threshold int) *Backpressure {
	return &Backpressure{threshold: uint64(max(threshold, 0))}
}

// Observe is called once per natural end with the post-increment consumption
// count. It reports whether a token must be sent.
func (b *Backpressure) Observe(consumed uint64) bool {
	if consumed < b.threshold {
		return false
	}
	b.sent++
	return true
}

// Sent returns how many tokens the policy has released.
func (b *Backpressure) Sent() uint64 { return b.sent }
