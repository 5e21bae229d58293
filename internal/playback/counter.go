package playback

// Counter counts segments that have finished playing. It never goes below
// zero.
type Counter struct {
	n uint64
}

// Inc records one natural segment end and returns the new value.
func (c *Counter) Inc() uint64 {
	c.n++
	return c.n
}

// Sub lowers the counter by n, clamping at zero, and returns the new value.
func (c *Counter) Sub(n int) uint64 {
	if n <= 0 {
		return c.n
	}
	if uint64(n) >= c.n {
		c.n = 0
	} else {
		c.n -= uint64(n)
	}
	return c.n
}

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.n }
