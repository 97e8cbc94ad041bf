package dfan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Broadcaster relays every published value to each attached [Consumer].
//
// There is a single logical producer calling [*Broadcaster.Publish]
// or [*Broadcaster.PublishFinal].
// Publishing never blocks on consumers and never fails;
// each consumer buffers what its caller has not yet pulled.
//
// Create instances with [NewBroadcaster].
type Broadcaster[T any] struct {
	log *slog.Logger

	// Held for the whole fan-out, so that concurrent publishers
	// still present one order to every consumer.
	publishMu sync.Mutex

	// Only accessed while holding publishMu.
	snapshot []*Consumer[T]

	mu sync.Mutex

	hooks Hooks

	// Lifecycle notifications not yet handed to hooks, in state-change order.
	// Whichever goroutine finds dispatching clear delivers them,
	// so hooks never run concurrently or out of order.
	hookQueue   []hookEvent
	dispatching bool

	// Attached consumers live in slots;
	// a set bit in occupied means the slot holds an attached consumer.
	occupied *bitset.BitSet
	slots    []*Consumer[T]

	nextID uint64

	// Set once a final value has been published.
	finished bool
}

// BroadcasterConfig is the configuration for [NewBroadcaster].
type BroadcasterConfig struct {
	// Lifecycle notifications.
	// If nil, [NopHooks] is used.
	// May be replaced later with [*Broadcaster.SetHooks].
	Hooks Hooks

	// Expected number of concurrently attached consumers.
	// The broadcaster grows past this as needed;
	// zero is a reasonable default.
	InitialCapacity uint
}

// NewBroadcaster returns a new Broadcaster with no attached consumers.
func NewBroadcaster[T any](log *slog.Logger, cfg BroadcasterConfig) *Broadcaster[T] {
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	return &Broadcaster[T]{
		log: log,

		hooks: hooks,

		occupied: bitset.New(cfg.InitialCapacity),
		slots:    make([]*Consumer[T], 0, cfg.InitialCapacity),
	}
}

// SetHooks replaces the broadcaster's lifecycle hooks.
// A nil h restores the default [NopHooks].
//
// Notifications already in progress on other goroutines
// may still be delivered to the previous hooks.
func (b *Broadcaster[T]) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}

	b.mu.Lock()
	b.hooks = h
	b.mu.Unlock()
}

// Attach returns a new [Consumer] that observes every value
// published from this point on.
//
// If the broadcaster previously had no consumers,
// [Hooks.OnFirstAttach] is called, followed by [Hooks.OnAttach],
// which is called for every attach.
// Normally both run before Attach returns;
// if another goroutine is delivering hook calls at the time,
// that goroutine delivers them instead, after the calls queued before them.
//
// Attaching after a final value has been published
// returns a consumer that is already finished:
// its Next method reports [ErrConsumerClosed],
// it is not counted in [*Broadcaster.Len], and no hooks are called.
func (b *Broadcaster[T]) Attach() *Consumer[T] {
	b.mu.Lock()

	b.nextID++
	id := b.nextID

	if b.finished {
		b.mu.Unlock()

		b.log.Debug(
			"Attached consumer after final value; consumer starts finished",
			"consumer", id,
		)
		return newConsumer(b, id, StateFinished)
	}

	c := newConsumer(b, id, StateActive)

	slot, ok := b.occupied.NextClear(0)
	if !ok {
		slot = b.occupied.Len()
	}
	b.occupied.Set(slot)
	for uint(len(b.slots)) <= slot {
		b.slots = append(b.slots, nil)
	}
	b.slots[slot] = c
	c.slot = slot
	c.registered = true

	first := b.occupied.Count() == 1
	if first {
		b.hookQueue = append(b.hookQueue, hookFirstAttach)
	}
	b.hookQueue = append(b.hookQueue, hookAttach)

	b.mu.Unlock()

	b.log.Debug("Attached consumer", "consumer", id, "first", first)

	b.dispatchHooks()

	return c
}

// Publish delivers v to every attached consumer.
func (b *Broadcaster[T]) Publish(v T) {
	b.publish(Envelope[T]{Val: v})
}

// PublishFinal delivers v to every attached consumer
// as the last value of the stream.
//
// Each consumer detaches itself once its caller pulls the final value.
// Values published after the final value are dropped,
// and consumers attached afterwards start out finished.
func (b *Broadcaster[T]) PublishFinal(v T) {
	b.publish(Envelope[T]{Val: v, Final: true})
}

func (b *Broadcaster[T]) publish(env Envelope[T]) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		b.log.Warn(
			"Dropping value published after the final value",
			"final", env.Final,
		)
		return
	}
	b.finished = env.Final

	// Consumers may detach while we deliver,
	// so iterate a copy of the attached set instead of the slot table.
	b.snapshot = b.snapshot[:0]
	for i, ok := b.occupied.NextSet(0); ok; i, ok = b.occupied.NextSet(i + 1) {
		b.snapshot = append(b.snapshot, b.slots[i])
	}
	b.mu.Unlock()

	for _, c := range b.snapshot {
		c.deliver(env)
	}

	// Don't keep detached consumers reachable until the next publish.
	clear(b.snapshot)
}

// Len reports the number of currently attached consumers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.occupied.Count())
}

// detach removes c from the attached set.
// It is called by the consumer when it stops being active,
// and it is a no-op for a consumer that is not attached.
func (b *Broadcaster[T]) detach(c *Consumer[T]) {
	b.mu.Lock()

	if !c.registered || !b.occupied.Test(c.slot) || b.slots[c.slot] != c {
		b.mu.Unlock()
		return
	}

	b.occupied.Clear(c.slot)
	b.slots[c.slot] = nil

	last := b.occupied.Count() == 0
	b.hookQueue = append(b.hookQueue, hookDetach)
	if last {
		b.hookQueue = append(b.hookQueue, hookLastDetach)
	}

	b.mu.Unlock()

	b.log.Debug("Detached consumer", "consumer", c.id, "last", last)

	b.dispatchHooks()
}

type hookEvent uint8

const (
	hookAttach hookEvent = iota
	hookFirstAttach
	hookDetach
	hookLastDetach
)

func (e hookEvent) call(h Hooks) {
	switch e {
	case hookAttach:
		h.OnAttach()
	case hookFirstAttach:
		h.OnFirstAttach()
	case hookDetach:
		h.OnDetach()
	case hookLastDetach:
		h.OnLastDetach()
	default:
		panic(fmt.Errorf("BUG: unknown hook event %d", e))
	}
}

// dispatchHooks delivers queued notifications without holding b.mu.
// If another goroutine is already delivering, dispatchHooks returns at once
// and that goroutine delivers the queued notifications as well.
// A hook that calls back into the broadcaster queues its own notifications
// behind the one currently running.
func (b *Broadcaster[T]) dispatchHooks() {
	b.mu.Lock()
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true

	for len(b.hookQueue) > 0 {
		e := b.hookQueue[0]
		b.hookQueue = b.hookQueue[1:]
		hooks := b.hooks

		b.mu.Unlock()
		e.call(hooks)
		b.mu.Lock()
	}

	b.hookQueue = nil
	b.dispatching = false
	b.mu.Unlock()
}
