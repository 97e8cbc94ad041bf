package dfan_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/internal/dtest"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// broadcastModel tracks, for every consumer ever attached,
// the values it must still return from Next.
type broadcastModel struct {
	b *dfan.Broadcaster[int]

	consumers []*dfan.Consumer[int]
	pending   [][]int
	open      []bool

	nextVal int
}

func (m *broadcastModel) publish(t *rapid.T) {
	v := m.nextVal
	m.nextVal++

	m.b.Publish(v)
	for i := range m.consumers {
		if m.open[i] {
			m.pending[i] = append(m.pending[i], v)
		}
	}
}

func (m *broadcastModel) attach(t *rapid.T) {
	m.consumers = append(m.consumers, m.b.Attach())
	m.pending = append(m.pending, nil)
	m.open = append(m.open, true)
}

func (m *broadcastModel) pick(t *rapid.T, label string) (int, bool) {
	if len(m.consumers) == 0 {
		return 0, false
	}
	return rapid.IntRange(0, len(m.consumers)-1).Draw(t, label), true
}

func (m *broadcastModel) next(t *rapid.T) {
	i, ok := m.pick(t, "next consumer")
	if !ok {
		return
	}

	c := m.consumers[i]
	if !m.open[i] {
		_, err := c.Next(context.Background())
		require.ErrorIs(t, err, dfan.ErrConsumerClosed)
		return
	}

	if len(m.pending[i]) == 0 {
		// Next would block; nothing to check without a publisher goroutine.
		return
	}

	env, err := c.Next(context.Background())
	require.NoError(t, err)
	require.False(t, env.Final)
	require.Equal(t, m.pending[i][0], env.Val)
	m.pending[i] = m.pending[i][1:]
}

func (m *broadcastModel) close(t *rapid.T) {
	i, ok := m.pick(t, "close consumer")
	if !ok {
		return
	}

	m.consumers[i].Close()
	m.open[i] = false
	m.pending[i] = nil
}

func (m *broadcastModel) attachedCount() int {
	n := 0
	for _, o := range m.open {
		if o {
			n++
		}
	}
	return n
}

func TestProperty_everyConsumerSeesItsSuffixInOrder(t *testing.T) {
	log := dtest.NewQuietLogger(t)

	rapid.Check(t, func(t *rapid.T) {
		m := &broadcastModel{
			b: dfan.NewBroadcaster[int](log, dfan.BroadcasterConfig{}),
		}

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for range steps {
			switch rapid.SampledFrom([]string{
				"publish", "publish", "attach", "next", "next", "close",
			}).Draw(t, "op") {
			case "publish":
				m.publish(t)
			case "attach":
				m.attach(t)
			case "next":
				m.next(t)
			case "close":
				m.close(t)
			}

			require.Equal(t, m.attachedCount(), m.b.Len())
		}

		// Finish the stream and check every open consumer drains
		// exactly its remaining values, then the final one.
		final := m.nextVal
		m.b.PublishFinal(final)

		for i, c := range m.consumers {
			if !m.open[i] {
				continue
			}

			for _, want := range m.pending[i] {
				env, err := c.Next(context.Background())
				require.NoError(t, err)
				require.Equal(t, dfan.Envelope[int]{Val: want}, env)
			}

			env, err := c.Next(context.Background())
			require.NoError(t, err)
			require.Equal(t, dfan.Envelope[int]{Val: final, Final: true}, env)

			_, err = c.Next(context.Background())
			require.ErrorIs(t, err, dfan.ErrConsumerClosed)
		}

		require.Zero(t, m.b.Len())
	})
}

func TestProperty_publishedBeforeFirstNext(t *testing.T) {
	log := dtest.NewQuietLogger(t)

	rapid.Check(t, func(t *rapid.T) {
		vals := rapid.SliceOf(rapid.String()).Draw(t, "vals")

		b := dfan.NewBroadcaster[string](log, dfan.BroadcasterConfig{})
		c := b.Attach()
		for _, v := range vals {
			b.Publish(v)
		}

		for _, want := range vals {
			env, err := c.Next(context.Background())
			require.NoError(t, err)
			require.Equal(t, want, env.Val)
		}
	})
}
