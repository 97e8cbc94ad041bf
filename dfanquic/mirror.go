package dfanquic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/dquic"
	"github.com/gordian-engine/dfan/internal/dtrace"
)

// MirrorStoppedCode is the stream error code
// a mirror cancels the relay stream with when it stops reading early.
const MirrorStoppedCode dquic.StreamErrorCode = 0x0df2

var (
	// ErrMissingFinal is returned from [RunMirror]
	// when the relay stream ends cleanly without a final frame.
	ErrMissingFinal = errors.New("relay stream ended without a final value")

	// ErrProtocolMismatch is returned from [RunMirror]
	// when the relay stream does not start with the configured protocol ID.
	ErrProtocolMismatch = errors.New("relay stream has unexpected protocol ID")
)

// MirrorConfig is the configuration for [RunMirror].
type MirrorConfig struct {
	// The protocol byte expected at the start of the relay stream.
	ProtocolID byte

	// Frames with larger payloads end the mirror with [ErrFrameTooLarge].
	// Defaults to [DefaultMaxFrameSize].
	MaxFrameSize int

	// How long to wait for the relay to open its stream.
	// Zero means no limit beyond the context.
	AcceptStreamTimeout time.Duration

	// Optional; a no-op provider is used if nil.
	TracerProvider dtrace.TracerProvider
}

func (c MirrorConfig) validate() {
	var err error

	if c.MaxFrameSize < 0 {
		err = errors.Join(err, fmt.Errorf(
			"MaxFrameSize must not be negative (got %d)", c.MaxFrameSize,
		))
	}
	if c.AcceptStreamTimeout < 0 {
		err = errors.Join(err, fmt.Errorf(
			"AcceptStreamTimeout must not be negative (got %s)", c.AcceptStreamTimeout,
		))
	}

	if err != nil {
		panic(fmt.Errorf("invalid MirrorConfig: %w", err))
	}
}

// RunMirror accepts the relay stream on conn
// and publishes every value it carries to b,
// finishing with [*dfan.Broadcaster.PublishFinal] for the final frame.
//
// RunMirror blocks until the final value is published,
// returning nil, or until an error occurs.
// If the stream ends before a final frame, the error is [ErrMissingFinal].
// On context cancellation the error is the context's cause.
//
// RunMirror panics if cfg is invalid.
func RunMirror(
	ctx context.Context,
	log *slog.Logger,
	conn dquic.Conn,
	b *dfan.Broadcaster[[]byte],
	cfg MirrorConfig,
) error {
	cfg.validate()

	maxFrameSize := cfg.MaxFrameSize
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	ctx, span := dtrace.TracerOrNop(cfg.TracerProvider).Start(
		ctx,
		"mirror",
		dtrace.WithAttributes(dtrace.RemoteAddrAttr(conn)),
	)
	defer span.End()

	s, err := acceptStream(ctx, conn, cfg.AcceptStreamTimeout)
	if err != nil {
		dtrace.SpanError(span, err)
		return err
	}

	// Unblock a pending read once ctx ends.
	stopCancel := context.AfterFunc(ctx, func() {
		s.CancelRead(MirrorStoppedCode)
	})
	defer stopCancel()

	n, err := mirrorStream(ctx, s, b, cfg.ProtocolID, maxFrameSize, span)
	if err != nil {
		s.CancelRead(MirrorStoppedCode)
		log.Info("Mirror stopped", "frames", n, "err", err)
		dtrace.SpanError(span, err)
		return err
	}

	log.Debug("Mirror received final value", "frames", n)
	return nil
}

// mirrorStream validates the protocol header on s
// and publishes frames to b until the final one.
// It returns the number of frames published.
func mirrorStream(
	ctx context.Context,
	s dquic.ReceiveStream,
	b *dfan.Broadcaster[[]byte],
	protocolID byte,
	maxFrameSize int,
	span dtrace.Span,
) (int, error) {
	br := bufio.NewReader(s)

	id, err := br.ReadByte()
	if err != nil {
		return 0, readErr(ctx, "failed to read protocol header", err)
	}
	if id != protocolID {
		return 0, fmt.Errorf("%w: want 0x%02x, got 0x%02x", ErrProtocolMismatch, protocolID, id)
	}

	var n int
	for {
		env, err := ReadFrame(br, maxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, ErrMissingFinal
			}
			return n, readErr(ctx, "failed to read frame", err)
		}
		n++

		span.AddEvent("received frame", dtrace.WithAttributes(
			dtrace.FrameSizeAttr(len(env.Val)),
			dtrace.FinalAttr(env.Final),
		))

		if env.Final {
			b.PublishFinal(env.Val)
			return n, nil
		}
		b.Publish(env.Val)
	}
}

func acceptStream(
	ctx context.Context, conn dquic.Conn, timeout time.Duration,
) (dquic.ReceiveStream, error) {
	acceptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s, err := conn.AcceptUniStream(acceptCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("failed to accept relay stream: %w", err)
	}
	return s, nil
}

// readErr reports the context's cause in place of err
// when the read failed because ctx ended.
func readErr(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
