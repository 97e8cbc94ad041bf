package dfan

import "errors"

// ErrConsumerClosed is returned from [*Consumer.Next]
// once the consumer is no longer active:
// after it observed the final value, after [*Consumer.Close],
// or after a [*Consumer.Fail] error has already been reported.
var ErrConsumerClosed = errors.New("consumer closed")

// ErrNextInFlight is returned from [*Consumer.Next]
// when another call to Next on the same consumer is still waiting for a value.
// A consumer supports only one outstanding Next call at a time.
var ErrNextInFlight = errors.New("another Next call is already waiting on this consumer")
