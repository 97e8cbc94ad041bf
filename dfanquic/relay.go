package dfanquic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/dquic"
	"github.com/gordian-engine/dfan/internal/dtrace"
)

const (
	// BroadcastFinishedCode is the application error code
	// a relay closes a connection with,
	// when the connection arrives after the final value was published.
	BroadcastFinishedCode dquic.ApplicationErrorCode = 0x0df0

	// RelayStoppedCode is the stream error code
	// a relay cancels its stream with,
	// when it stops before writing the final value.
	RelayStoppedCode dquic.StreamErrorCode = 0x0df1
)

var errConnClosed = errors.New("connection closed")

// RelayConfig is the configuration for [NewRelay].
type RelayConfig struct {
	// The broadcaster whose values are relayed. Required.
	Broadcaster *dfan.Broadcaster[[]byte]

	// The single protocol-identifying byte written at the start of each stream.
	ProtocolID byte

	// How long to wait for the peer to allow a new stream.
	// Defaults to 2 seconds.
	OpenStreamTimeout time.Duration

	// Deadline for writing each frame.
	// A peer that cannot keep up within this deadline is disconnected.
	// Defaults to 5 seconds.
	WriteTimeout time.Duration

	// Optional; a no-op provider is used if nil.
	TracerProvider dtrace.TracerProvider
}

func (c RelayConfig) validate() {
	var err error

	if c.Broadcaster == nil {
		err = errors.Join(err, errors.New("Broadcaster must not be nil"))
	}
	if c.OpenStreamTimeout < 0 {
		err = errors.Join(err, fmt.Errorf(
			"OpenStreamTimeout must not be negative (got %s)", c.OpenStreamTimeout,
		))
	}
	if c.WriteTimeout < 0 {
		err = errors.Join(err, fmt.Errorf(
			"WriteTimeout must not be negative (got %s)", c.WriteTimeout,
		))
	}

	if err != nil {
		panic(fmt.Errorf("invalid RelayConfig: %w", err))
	}
}

// Relay writes the values of a broadcaster to every connection it handles.
//
// Create instances with [NewRelay].
type Relay struct {
	log *slog.Logger

	b *dfan.Broadcaster[[]byte]

	tracer dtrace.Tracer

	header []byte

	openStreamTimeout time.Duration
	writeTimeout      time.Duration

	// Tracks running workers.
	wg sync.WaitGroup
}

// NewRelay returns a new Relay.
// It panics if cfg is invalid.
func NewRelay(log *slog.Logger, cfg RelayConfig) *Relay {
	cfg.validate()

	openStreamTimeout := cfg.OpenStreamTimeout
	if openStreamTimeout == 0 {
		openStreamTimeout = 2 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	return &Relay{
		log: log,

		b: cfg.Broadcaster,

		tracer: dtrace.TracerOrNop(cfg.TracerProvider),

		header: []byte{cfg.ProtocolID},

		openStreamTimeout: openStreamTimeout,
		writeTimeout:      writeTimeout,
	}
}

// Serve accepts connections from l and handles each with [*Relay.HandleConn],
// until ctx is canceled or accepting fails.
//
// On context cancellation, Serve returns the context's cause.
// Workers for accepted connections may still be running;
// use [*Relay.Wait] to wait for them.
func (r *Relay) Serve(ctx context.Context, l dquic.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		r.HandleConn(ctx, conn)
	}
}

// HandleConn attaches a consumer for conn and
// starts a worker goroutine relaying its values.
//
// The consumer is attached before HandleConn returns,
// so every value published afterwards is relayed to conn.
// The worker stops after writing the final value,
// when ctx is canceled, when conn closes, or on a write error.
func (r *Relay) HandleConn(ctx context.Context, conn dquic.Conn) {
	c := r.b.Attach()
	if c.State() != dfan.StateActive {
		r.log.Info(
			"Rejecting connection after final value",
			"remote", conn.RemoteAddr().String(),
		)
		if err := conn.CloseWithError(BroadcastFinishedCode, "broadcast finished"); err != nil {
			r.log.Debug("Failed to close connection", "err", err)
		}
		return
	}

	r.wg.Add(1)
	go r.runWorker(ctx, conn, c)
}

// Wait blocks until every worker started by the relay has stopped.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) runWorker(
	ctx context.Context,
	conn dquic.Conn,
	c *dfan.Consumer[[]byte],
) {
	defer r.wg.Done()

	log := r.log.With(
		"remote", conn.RemoteAddr().String(),
		"consumer", c.ID(),
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(conn.Context(), func() {
		cancel(errConnClosed)
	})
	defer stop()

	ctx, span := r.tracer.Start(
		ctx,
		"relay worker",
		dtrace.WithAttributes(
			dtrace.RemoteAddrAttr(conn),
			dtrace.ConsumerIDAttr(c.ID()),
		),
	)
	defer span.End()

	span.AddEvent("open relay stream")
	s, err := r.openStream(ctx, conn)
	if err != nil {
		log.Info("Failed to open relay stream", "err", err)
		dtrace.SpanError(span, err)
		c.Fail(err)
		return
	}

	if err := r.relay(ctx, s, c, span); err != nil {
		log.Info("Stopped relaying", "err", err)
		dtrace.SpanError(span, err)
		return
	}

	log.Debug("Relayed final value")
}

func (r *Relay) openStream(ctx context.Context, conn dquic.Conn) (dquic.SendStream, error) {
	openCtx, cancel := context.WithTimeout(ctx, r.openStreamTimeout)
	s, err := conn.OpenUniStreamSync(openCtx)
	cancel() // Immediately cancel to free context resources.
	if err != nil {
		return nil, fmt.Errorf("failed to open outgoing stream: %w", err)
	}

	if err := s.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := s.Write(r.header); err != nil {
		s.CancelWrite(RelayStoppedCode)
		return nil, fmt.Errorf("failed to write protocol header: %w", err)
	}

	return s, nil
}

// relay writes one frame per value pulled from c until the final value.
// On any other outcome the stream is canceled and c is no longer active.
func (r *Relay) relay(
	ctx context.Context,
	s dquic.SendStream,
	c *dfan.Consumer[[]byte],
	span dtrace.Span,
) error {
	// Unblock a write stuck on flow control once ctx ends.
	stopCancel := context.AfterFunc(ctx, func() {
		s.CancelWrite(RelayStoppedCode)
	})
	defer stopCancel()

	var buf []byte
	for {
		env, err := c.Next(ctx)
		if err != nil {
			s.CancelWrite(RelayStoppedCode)
			c.Close()
			if errors.Is(err, dfan.ErrConsumerClosed) {
				return errors.New("consumer closed before final value")
			}
			return fmt.Errorf("failed waiting for next value: %w", err)
		}

		buf = AppendFrame(buf[:0], env)

		if err := s.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
			err = fmt.Errorf("failed to set write deadline: %w", err)
			s.CancelWrite(RelayStoppedCode)
			c.Fail(err)
			return err
		}
		if _, err := s.Write(buf); err != nil {
			err = fmt.Errorf("failed to write frame: %w", err)
			s.CancelWrite(RelayStoppedCode)
			c.Fail(err)
			return err
		}

		span.AddEvent("sent frame", dtrace.WithAttributes(
			dtrace.FrameSizeAttr(len(env.Val)),
			dtrace.FinalAttr(env.Final),
		))

		if env.Final {
			// The consumer already finished on its own.
			if err := s.Close(); err != nil {
				return fmt.Errorf("failed to close stream after final value: %w", err)
			}
			return nil
		}
	}
}
