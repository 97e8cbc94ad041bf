package dfan

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
)

// Consumer lifecycle states, as reported by [*Consumer.State].
// Every state other than StateActive is terminal.
const (
	StateActive = "active"

	// The consumer's caller pulled the final value.
	StateFinished = "finished"

	// The consumer was closed with [*Consumer.Close].
	StateClosed = "closed"

	// The consumer was closed with [*Consumer.Fail].
	StateFailed = "failed"
)

const (
	eventFinish = "finish"
	eventClose  = "close"
	eventFail   = "fail"
)

// Consumer is one independent cursor over a [Broadcaster]'s stream.
// Create one with [*Broadcaster.Attach].
//
// A consumer buffers every value published while it is active,
// until its caller retrieves the value with [*Consumer.Next].
// Callers that stop consuming early must call [*Consumer.Close]
// (or [*Consumer.Fail]) so that the broadcaster stops buffering for them;
// ranging over [*Consumer.All] does this automatically.
type Consumer[T any] struct {
	log *slog.Logger

	b  *Broadcaster[T]
	id uint64

	// Owned by the broadcaster; only accessed under b.mu.
	slot       uint
	registered bool

	mu sync.Mutex

	lc *fsm.FSM

	// Either *backlog[T] or *waiter[T], never nil.
	in inbox[T]

	// Error given to Fail while no Next call was waiting,
	// to be reported by the following Next call.
	pendingErr error
}

// inbox is the consumer's undelivered state:
// either a backlog of values nobody has asked for yet,
// or a waiter armed by a Next call that found no values.
// Having one field hold exactly one of the two
// keeps "queued values" and "blocked caller" mutually exclusive.
type inbox[T any] interface {
	isInbox()
}

type backlog[T any] struct {
	q []Envelope[T]
}

func (*backlog[T]) isInbox() {}

func (b *backlog[T]) push(env Envelope[T]) {
	b.q = append(b.q, env)
}

func (b *backlog[T]) pop() (Envelope[T], bool) {
	if len(b.q) == 0 {
		return Envelope[T]{}, false
	}

	env := b.q[0]
	b.q[0] = Envelope[T]{}
	b.q = b.q[1:]
	return env, true
}

type waiter[T any] struct {
	// Buffered with capacity 1 and sent to at most once,
	// by whoever disarms the waiter while holding the consumer's lock.
	ch chan outcome[T]
}

func (*waiter[T]) isInbox() {}

type outcome[T any] struct {
	env Envelope[T]
	err error
}

func newConsumer[T any](b *Broadcaster[T], id uint64, initial string) *Consumer[T] {
	return &Consumer[T]{
		log: b.log.With("consumer", id),

		b:  b,
		id: id,

		lc: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: eventFinish, Src: []string{StateActive}, Dst: StateFinished},
				{Name: eventClose, Src: []string{StateActive}, Dst: StateClosed},
				{Name: eventFail, Src: []string{StateActive}, Dst: StateFailed},
			},
			fsm.Callbacks{},
		),

		in: new(backlog[T]),
	}
}

// ID returns the consumer's identifier,
// unique among consumers of the same broadcaster.
func (c *Consumer[T]) ID() uint64 {
	return c.id
}

// State returns the consumer's current lifecycle state,
// one of [StateActive], [StateFinished], [StateClosed], or [StateFailed].
func (c *Consumer[T]) State() string {
	return c.lc.Current()
}

// Next returns the next value in the stream,
// blocking until one is published if none is buffered.
//
// When the returned envelope is final,
// the consumer has already finished and detached from the broadcaster.
//
// Once the consumer is no longer active, Next returns [ErrConsumerClosed];
// except that the first call after a [*Consumer.Fail]
// (if no Next call was waiting at the time)
// returns the error given to Fail.
//
// If ctx is canceled while waiting, Next returns [context.Cause]
// and the consumer remains active; no value is lost.
// Only one Next call may wait at a time;
// a concurrent call returns [ErrNextInFlight].
func (c *Consumer[T]) Next(ctx context.Context) (Envelope[T], error) {
	c.mu.Lock()

	if !c.lc.Is(StateActive) {
		err := c.takeEndErrLocked()
		c.mu.Unlock()
		return Envelope[T]{}, err
	}

	var w *waiter[T]
	switch in := c.in.(type) {
	case *backlog[T]:
		if env, ok := in.pop(); ok {
			if env.Final {
				c.finishLocked()
				c.mu.Unlock()
				c.b.detach(c)
				return env, nil
			}

			c.mu.Unlock()
			return env, nil
		}

		w = &waiter[T]{ch: make(chan outcome[T], 1)}
		c.in = w

	case *waiter[T]:
		c.mu.Unlock()
		return Envelope[T]{}, ErrNextInFlight

	default:
		c.mu.Unlock()
		panic(fmt.Errorf("BUG: unknown consumer inbox type %T", in))
	}

	c.mu.Unlock()

	select {
	case o := <-w.ch:
		return c.settle(o)

	case <-ctx.Done():
		c.mu.Lock()
		if c.in == inbox[T](w) {
			// Still armed, so nothing was sent; disarm it.
			c.in = new(backlog[T])
			c.mu.Unlock()
			return Envelope[T]{}, context.Cause(ctx)
		}
		c.mu.Unlock()

		// Someone disarmed the waiter while ctx was canceled,
		// so the outcome is already in the channel.
		return c.settle(<-w.ch)
	}
}

// settle handles the outcome handed to a waiting Next call.
func (c *Consumer[T]) settle(o outcome[T]) (Envelope[T], error) {
	if o.err != nil {
		return Envelope[T]{}, o.err
	}

	if o.env.Final {
		// deliver already finished the consumer when it resolved the waiter;
		// detaching is left to this goroutine, outside the publish.
		c.b.detach(c)
	}

	return o.env, nil
}

// finishLocked transitions an active consumer to StateFinished.
// It is a no-op if the consumer already ended.
// An armed waiter is resolved with ErrConsumerClosed.
func (c *Consumer[T]) finishLocked() {
	if !c.lc.Is(StateActive) {
		return
	}

	c.transitionLocked(eventFinish)

	if w, ok := c.in.(*waiter[T]); ok {
		w.ch <- outcome[T]{err: ErrConsumerClosed}
	}
	c.in = new(backlog[T])

	c.log.Debug("Consumer observed final value")
}

func (c *Consumer[T]) transitionLocked(event string) {
	if err := c.lc.Event(context.Background(), event); err != nil {
		panic(fmt.Errorf(
			"BUG: consumer lifecycle event %q failed from state %q: %w",
			event, c.lc.Current(), err,
		))
	}
}

func (c *Consumer[T]) takeEndErrLocked() error {
	if err := c.pendingErr; err != nil {
		c.pendingErr = nil
		return err
	}
	return ErrConsumerClosed
}

// Close stops the consumer.
// Buffered values are discarded, the consumer detaches from its broadcaster,
// and a Next call currently waiting returns [ErrConsumerClosed].
//
// Close is a no-op if the consumer is not active.
func (c *Consumer[T]) Close() {
	if c.end(eventClose, ErrConsumerClosed) {
		c.log.Debug("Consumer closed")
	}
}

// Fail stops the consumer like [*Consumer.Close],
// but the waiting Next call, or else the next call to Next,
// returns err instead of [ErrConsumerClosed].
// Later Next calls return ErrConsumerClosed.
//
// Fail(nil) is equivalent to Close.
// Fail is a no-op if the consumer is not active.
func (c *Consumer[T]) Fail(err error) {
	if err == nil {
		c.Close()
		return
	}

	if c.end(eventFail, err) {
		c.log.Info("Consumer failed", "err", err)
	}
}

// end moves an active consumer to a terminal state through event,
// resolving a waiting Next call with cause.
// It reports whether the consumer was active.
func (c *Consumer[T]) end(event string, cause error) bool {
	c.mu.Lock()

	if !c.lc.Is(StateActive) {
		c.mu.Unlock()
		return false
	}

	c.transitionLocked(event)

	w, waiting := c.in.(*waiter[T])
	c.in = new(backlog[T])

	if waiting {
		w.ch <- outcome[T]{err: cause}
	} else if !errors.Is(cause, ErrConsumerClosed) {
		c.pendingErr = cause
	}

	c.mu.Unlock()

	c.b.detach(c)
	return true
}

// deliver hands env to the consumer.
// It is only called by the broadcaster during fan-out.
func (c *Consumer[T]) deliver(env Envelope[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lc.Is(StateActive) {
		return
	}

	switch in := c.in.(type) {
	case *waiter[T]:
		c.in = new(backlog[T])
		in.ch <- outcome[T]{env: env}

		if env.Final {
			// Finish before unlocking, so that a Next call racing
			// the woken waiter observes ErrConsumerClosed
			// instead of arming a waiter nothing would resolve.
			c.finishLocked()
		}

	case *backlog[T]:
		in.push(env)

	default:
		panic(fmt.Errorf("BUG: unknown consumer inbox type %T", in))
	}
}

// All returns an iterator over the consumer's values,
// for use with a range statement.
//
// Iteration ends after the final value,
// when the consumer is closed, or when ctx is canceled.
// A failure given to [*Consumer.Fail], or the cause of ctx's cancellation,
// is yielded once as a non-nil error with the zero value.
//
// The consumer is closed when iteration stops for any reason,
// including breaking out of the loop early.
func (c *Consumer[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer c.Close()

		for {
			env, err := c.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrConsumerClosed) {
					var zero T
					yield(zero, err)
				}
				return
			}

			if !yield(env.Val, nil) || env.Final {
				return
			}
		}
	}
}
