package dpubsub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/dfantest"
	"github.com/gordian-engine/dfan/dpubsub"
	"github.com/gordian-engine/dfan/internal/dtest"
	"github.com/stretchr/testify/require"
)

func TestRunChannelToBroadcaster_stopsOnFinal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	// Unbuffered so we know sends are received.
	ch := make(chan dfan.Envelope[int])
	done := dpubsub.RunChannelToBroadcaster(ctx, ch, b)

	dtest.SendSoon(t, ch, dfan.Envelope[int]{Val: 1})
	dtest.SendSoon(t, ch, dfan.Envelope[int]{Val: 2, Final: true})

	_ = dtest.ReceiveSoon(t, done)

	got, err := dfantest.Drain(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)
}

func TestRunChannelToBroadcaster_stopsOnContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	ch := make(chan dfan.Envelope[int])
	done := dpubsub.RunChannelToBroadcaster(ctx, ch, b)

	dtest.SendSoon(t, ch, dfan.Envelope[int]{Val: 1})
	cancel()

	_ = dtest.ReceiveSoon(t, done)

	env, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, dfan.Envelope[int]{Val: 1}, env)

	// No final value was published, so the consumer is still active.
	require.Equal(t, dfan.StateActive, c.State())
}

func TestRunChannelToBroadcaster_stopsOnChannelClosed(t *testing.T) {
	t.Parallel()

	b, _ := dfantest.NewBroadcaster[int](t)
	c := b.Attach()

	ch := make(chan dfan.Envelope[int])
	done := dpubsub.RunChannelToBroadcaster(context.Background(), ch, b)

	dtest.SendSoon(t, ch, dfan.Envelope[int]{Val: 1})
	dtest.SendSoon(t, ch, dfan.Envelope[int]{Val: 2})
	close(ch)

	_ = dtest.ReceiveSoon(t, done)

	for _, want := range []int{1, 2} {
		env, err := c.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, env.Val)
	}
	require.Equal(t, dfan.StateActive, c.State())
}

func TestRunConsumerToChannel_final(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[string](t)
	out, result := dpubsub.RunConsumerToChannel(ctx, b.Attach())

	dtest.NotSending(t, out)

	b.Publish("a")
	require.Equal(t, "a", dtest.ReceiveSoon(t, out))

	b.PublishFinal("b")
	require.Equal(t, "b", dtest.ReceiveSoon(t, out))

	_, ok := <-out
	require.False(t, ok)
	require.NoError(t, dtest.ReceiveSoon(t, result))
	require.Zero(t, b.Len())
}

func TestRunConsumerToChannel_fail(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := dfantest.NewBroadcaster[string](t)
	c := b.Attach()
	out, result := dpubsub.RunConsumerToChannel(ctx, c)

	boom := errors.New("boom")
	c.Fail(boom)

	for range out {
		t.Fatal("no values expected")
	}
	require.ErrorIs(t, dtest.ReceiveSoon(t, result), boom)
}

func TestRunConsumerToChannel_contextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	b, h := dfantest.NewBroadcaster[string](t)
	out, result := dpubsub.RunConsumerToChannel(ctx, b.Attach())

	// A value nobody receives, so the goroutine is blocked on the send.
	b.Publish("unread")
	cancel()

	require.ErrorIs(t, dtest.ReceiveSoon(t, result), context.Canceled)

	// The unread value is dropped along with the consumer.
	for range out {
	}

	require.Eventually(t, func() bool {
		return h.Count(dfantest.LastDetachHook) == 1
	}, time.Second, 5*time.Millisecond)
}
