package dfantest

import (
	"context"

	"github.com/gordian-engine/dfan"
)

// NextResult is the return value of a single [*dfan.Consumer.Next] call.
type NextResult[T any] struct {
	Env dfan.Envelope[T]
	Err error
}

// GoNext calls c.Next(ctx) in a new goroutine.
// The result is sent on the returned channel, which has capacity 1.
//
// This lets a test observe that Next is blocked,
// using helpers like dtest.NotSending, and then unblock it.
func GoNext[T any](ctx context.Context, c *dfan.Consumer[T]) <-chan NextResult[T] {
	ch := make(chan NextResult[T], 1)
	go func() {
		env, err := c.Next(ctx)
		ch <- NextResult[T]{Env: env, Err: err}
	}()
	return ch
}

// Drain pulls values from c until it stops being active,
// returning every value it received.
// It stops early if ctx is canceled, or if Next reports any error
// other than [dfan.ErrConsumerClosed], returning that error.
func Drain[T any](ctx context.Context, c *dfan.Consumer[T]) ([]T, error) {
	var out []T
	for v, err := range c.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
