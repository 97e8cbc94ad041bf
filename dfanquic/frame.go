package dfanquic

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gordian-engine/dfan"
)

// DefaultMaxFrameSize is the payload limit a mirror enforces
// when [MirrorConfig.MaxFrameSize] is zero.
const DefaultMaxFrameSize = 1 << 20

const (
	flagFinal byte = 1 << 0

	knownFlags = flagFinal
)

var (
	// ErrFrameTooLarge is returned from [ReadFrame]
	// when a frame declares a payload beyond the allowed size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrUnknownFlags is returned from [ReadFrame]
	// when a frame sets flag bits this version does not understand.
	ErrUnknownFlags = errors.New("frame has unknown flags set")
)

// FrameReader is the reader required by [ReadFrame].
// A [*bufio.Reader] satisfies it.
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// AppendFrame appends the wire encoding of env to dst
// and returns the extended slice.
func AppendFrame(dst []byte, env dfan.Envelope[[]byte]) []byte {
	var flags byte
	if env.Final {
		flags |= flagFinal
	}

	dst = append(dst, flags)
	dst = binary.AppendUvarint(dst, uint64(len(env.Val)))
	return append(dst, env.Val...)
}

// ReadFrame reads a single frame from r.
//
// If r is exhausted before the first byte of the frame,
// ReadFrame returns [io.EOF].
// If r ends partway through a frame, the error is [io.ErrUnexpectedEOF].
//
// The returned payload is newly allocated and owned by the caller.
func ReadFrame(r FrameReader, maxSize int) (dfan.Envelope[[]byte], error) {
	var env dfan.Envelope[[]byte]

	flags, err := r.ReadByte()
	if err != nil {
		return env, err
	}
	if flags&^knownFlags != 0 {
		return env, fmt.Errorf("%w: 0x%02x", ErrUnknownFlags, flags)
	}

	sz, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return env, fmt.Errorf("failed to read frame length: %w", err)
	}
	if sz > uint64(maxSize) {
		return env, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, sz, maxSize)
	}

	env.Val = make([]byte, sz)
	if _, err := io.ReadFull(r, env.Val); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return dfan.Envelope[[]byte]{}, fmt.Errorf("failed to read frame payload: %w", err)
	}

	env.Final = flags&flagFinal != 0
	return env, nil
}
