package dpubsub

import (
	"context"
	"errors"

	"github.com/gordian-engine/dfan"
)

// RunChannelToBroadcaster starts a background goroutine
// that reads envelopes from ch and publishes them to b.
//
// The returned done channel is closed when the goroutine stops,
// which happens after publishing a final envelope,
// on context cancellation, or if ch is closed.
// Closing ch does not publish a final value;
// send an envelope with Final set to end the stream.
func RunChannelToBroadcaster[T any](
	ctx context.Context,
	ch <-chan dfan.Envelope[T],
	b *dfan.Broadcaster[T],
) (done <-chan struct{}) {
	doneCh := make(chan struct{})

	go runChannelToBroadcaster(ctx, ch, b, doneCh)

	return doneCh
}

func runChannelToBroadcaster[T any](
	ctx context.Context,
	ch <-chan dfan.Envelope[T],
	b *dfan.Broadcaster[T],
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-ch:
			if !ok {
				return
			}

			if env.Final {
				b.PublishFinal(env.Val)
				return
			}
			b.Publish(env.Val)
		}
	}
}

// RunConsumerToChannel starts a background goroutine
// that pulls values from c and sends them on the returned out channel.
//
// The out channel is unbuffered, so c keeps buffering
// whatever the receiver has not yet taken.
// It is closed when c stops being active or ctx is canceled,
// by which time exactly one value is buffered on the result channel:
// nil if c finished or was closed,
// the error passed to [*dfan.Consumer.Fail],
// or the cause of ctx's cancellation.
//
// On return, c is always closed.
func RunConsumerToChannel[T any](
	ctx context.Context,
	c *dfan.Consumer[T],
) (out <-chan T, result <-chan error) {
	outCh := make(chan T)
	resCh := make(chan error, 1)

	go runConsumerToChannel(ctx, c, outCh, resCh)

	return outCh, resCh
}

func runConsumerToChannel[T any](
	ctx context.Context,
	c *dfan.Consumer[T],
	out chan<- T,
	result chan<- error,
) {
	defer c.Close()
	defer close(out)

	for {
		env, err := c.Next(ctx)
		if err != nil {
			if errors.Is(err, dfan.ErrConsumerClosed) {
				err = nil
			}
			result <- err
			return
		}

		select {
		case <-ctx.Done():
			result <- context.Cause(ctx)
			return
		case out <- env.Val:
		}

		if env.Final {
			result <- nil
			return
		}
	}
}
