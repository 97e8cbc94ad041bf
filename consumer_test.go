package dfan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/dfantest"
	"github.com/gordian-engine/dfan/internal/dtest"
	"github.com/stretchr/testify/require"
)

func TestConsumer_Next_waitsForPublish(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[string](t)
	c := b.Attach()

	resCh := dfantest.GoNext(ctx, c)
	dtest.NotSending(t, resCh)

	b.Publish("a")

	res := dtest.ReceiveSoon(t, resCh)
	require.NoError(t, res.Err)
	require.Equal(t, "a", res.Env.Val)

	// The waiter was consumed by the delivery, so the next value is buffered.
	b.Publish("b")
	env, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", env.Val)
}

func TestConsumer_Next_waitsForFinal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, h := dfantest.NewBroadcaster[string](t)
	c := b.Attach()

	resCh := dfantest.GoNext(ctx, c)
	dtest.NotSending(t, resCh)

	b.PublishFinal("done")

	res := dtest.ReceiveSoon(t, resCh)
	require.NoError(t, res.Err)
	require.Equal(t, dfan.Envelope[string]{Val: "done", Final: true}, res.Env)

	require.Equal(t, dfan.StateFinished, c.State())
	require.Zero(t, b.Len())
	require.Equal(t, 1, h.Count(dfantest.LastDetachHook))

	_, err := c.Next(ctx)
	require.ErrorIs(t, err, dfan.ErrConsumerClosed)
}

func TestConsumer_Next_racingFinalHandedToWaiter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := range 20 {
		b, h := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		first := dfantest.GoNext(ctx, c)
		dtest.NotSending(t, first)

		b.PublishFinal(i)

		// The waiting call may not have woken yet,
		// but the consumer is already finished,
		// so another call must not wait for a value that cannot come.
		require.Equal(t, dfan.StateFinished, c.State())
		second := dfantest.GoNext(ctx, c)
		res := dtest.ReceiveSoon(t, second)
		require.ErrorIs(t, res.Err, dfan.ErrConsumerClosed)

		res = dtest.ReceiveSoon(t, first)
		require.NoError(t, res.Err)
		require.Equal(t, dfan.Envelope[int]{Val: i, Final: true}, res.Env)

		require.Zero(t, b.Len())
		require.Equal(t, 1, h.Count(dfantest.LastDetachHook))
	}
}

func TestConsumer_Close_resolvesWaitingNext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, h := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	resCh := dfantest.GoNext(ctx, c)
	dtest.NotSending(t, resCh)

	c.Close()

	res := dtest.ReceiveSoon(t, resCh)
	require.ErrorIs(t, res.Err, dfan.ErrConsumerClosed)
	require.Equal(t, dfan.StateClosed, c.State())
	require.Zero(t, b.Len())
	require.Equal(t, 1, h.Count(dfantest.DetachHook))

	// Deliveries after close are ignored.
	b.Publish(1)
	_, err := c.Next(ctx)
	require.ErrorIs(t, err, dfan.ErrConsumerClosed)
}

func TestConsumer_Close_discardsBuffered(t *testing.T) {
	t.Parallel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	b.Publish(1)
	b.Publish(2)
	c.Close()

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, dfan.ErrConsumerClosed)
}

func TestConsumer_Fail(t *testing.T) {
	t.Run("while Next is waiting", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		b, h := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		resCh := dfantest.GoNext(ctx, c)
		dtest.NotSending(t, resCh)

		boom := errors.New("boom")
		c.Fail(boom)

		res := dtest.ReceiveSoon(t, resCh)
		require.ErrorIs(t, res.Err, boom)
		require.Equal(t, dfan.StateFailed, c.State())
		require.Equal(t, []string{
			dfantest.FirstAttachHook, dfantest.AttachHook,
			dfantest.DetachHook, dfantest.LastDetachHook,
		}, h.Calls())

		// The error was already reported, so later calls see a plain close.
		_, err := c.Next(ctx)
		require.ErrorIs(t, err, dfan.ErrConsumerClosed)
	})

	t.Run("with no Next in flight", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()
		b.Publish(1)

		boom := errors.New("boom")
		c.Fail(boom)

		// Buffered values are discarded; the failure is reported exactly once.
		_, err := c.Next(ctx)
		require.ErrorIs(t, err, boom)

		_, err = c.Next(ctx)
		require.ErrorIs(t, err, dfan.ErrConsumerClosed)
	})

	t.Run("after close", func(t *testing.T) {
		t.Parallel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()
		c.Close()
		c.Fail(errors.New("ignored"))

		require.Equal(t, dfan.StateClosed, c.State())
		_, err := c.Next(context.Background())
		require.ErrorIs(t, err, dfan.ErrConsumerClosed)
	})

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()
		c.Fail(nil)

		require.Equal(t, dfan.StateClosed, c.State())
		_, err := c.Next(context.Background())
		require.ErrorIs(t, err, dfan.ErrConsumerClosed)
	})
}

func TestConsumer_Next_contextCanceled(t *testing.T) {
	t.Parallel()

	b, h := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	cause := errors.New("gave up")
	ctx, cancel := context.WithCancelCause(context.Background())

	resCh := dfantest.GoNext(ctx, c)
	dtest.NotSending(t, resCh)

	cancel(cause)

	res := dtest.ReceiveSoon(t, resCh)
	require.ErrorIs(t, res.Err, cause)

	// Cancellation only abandons that call; the consumer is still attached.
	require.Equal(t, dfan.StateActive, c.State())
	require.Equal(t, 1, b.Len())
	require.Zero(t, h.Count(dfantest.DetachHook))

	b.Publish(5)
	env, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, env.Val)
}

func TestConsumer_Next_alreadyCanceledWithBufferedValue(t *testing.T) {
	t.Parallel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()
	b.Publish(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A buffered value is returned without consulting the context.
	env, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.Val)

	_, err = c.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_Next_inFlight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	resCh := dfantest.GoNext(ctx, c)
	dtest.NotSending(t, resCh)

	_, err := c.Next(ctx)
	require.ErrorIs(t, err, dfan.ErrNextInFlight)

	// The first call is unaffected.
	b.Publish(3)
	res := dtest.ReceiveSoon(t, resCh)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Env.Val)
}

func TestConsumer_All(t *testing.T) {
	t.Run("until final", func(t *testing.T) {
		t.Parallel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		for i := range 4 {
			b.Publish(i)
		}
		b.PublishFinal(4)

		got, err := dfantest.Drain(context.Background(), c)
		require.NoError(t, err)
		require.Equal(t, []int{0, 1, 2, 3, 4}, got)
		require.Equal(t, dfan.StateFinished, c.State())
	})

	t.Run("break closes the consumer", func(t *testing.T) {
		t.Parallel()

		b, h := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		b.Publish(1)
		b.Publish(2)

		for v, err := range c.All(context.Background()) {
			require.NoError(t, err)
			require.Equal(t, 1, v)
			break
		}

		require.Equal(t, dfan.StateClosed, c.State())
		require.Zero(t, b.Len())
		require.Equal(t, 1, h.Count(dfantest.LastDetachHook))
	})

	t.Run("yields failure once", func(t *testing.T) {
		t.Parallel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		boom := errors.New("boom")
		b.Publish(1)

		var errs []error
		for v, err := range c.All(context.Background()) {
			if err != nil {
				errs = append(errs, err)
				continue
			}
			require.Equal(t, 1, v)
			c.Fail(boom)
		}

		require.Len(t, errs, 1)
		require.ErrorIs(t, errs[0], boom)
	})

	t.Run("stops quietly on close", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		got := make(chan int)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for v, err := range c.All(ctx) {
				if err != nil {
					t.Error(err)
					return
				}
				got <- v
			}
		}()

		b.Publish(1)
		require.Equal(t, 1, dtest.ReceiveSoon(t, got))

		// The loop is now waiting in Next, or about to.
		c.Close()
		_ = dtest.ReceiveSoon(t, done)
	})

	t.Run("context canceled", func(t *testing.T) {
		t.Parallel()

		b, _ := dfantest.NewBroadcaster[int](t)
		c := b.Attach()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := dfantest.Drain(ctx, c)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, dfan.StateClosed, c.State())
	})
}
