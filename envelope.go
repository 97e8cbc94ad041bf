package dfan

// Envelope is a published value,
// paired with whether it is the final value of the stream.
type Envelope[T any] struct {
	Val T

	// Final is set on the last value the stream will ever carry.
	// A consumer observing a final envelope is already closed.
	Final bool
}
