package dquictest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordian-engine/dfan/dquic"
)

// NewPipeStreams returns the two ends of an in-memory unidirectional stream.
// Writes to the send end block until the receive end reads them,
// in the same manner as [io.Pipe].
//
// Deadlines are accepted but not enforced.
func NewPipeStreams() (*PipeSendStream, *PipeReceiveStream) {
	pr, pw := io.Pipe()
	return &PipeSendStream{pw: pw}, &PipeReceiveStream{pr: pr}
}

// PipeSendStream is the write end of [NewPipeStreams].
type PipeSendStream struct {
	pw *io.PipeWriter
}

var _ dquic.SendStream = (*PipeSendStream)(nil)

func (s *PipeSendStream) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Close closes the pipe, so the reader observes [io.EOF]
// after consuming everything written.
func (s *PipeSendStream) Close() error {
	return s.pw.Close()
}

// CancelWrite closes the pipe with a [*StreamCanceledError].
func (s *PipeSendStream) CancelWrite(code dquic.StreamErrorCode) {
	_ = s.pw.CloseWithError(&StreamCanceledError{Code: code})
}

func (s *PipeSendStream) SetWriteDeadline(time.Time) error { return nil }

// PipeReceiveStream is the read end of [NewPipeStreams].
type PipeReceiveStream struct {
	pr *io.PipeReader

	mu         sync.Mutex
	cancelCode *dquic.StreamErrorCode
}

var _ dquic.ReceiveStream = (*PipeReceiveStream)(nil)

func (s *PipeReceiveStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// CancelRead closes the pipe with a [*StreamCanceledError],
// so a blocked writer fails.
func (s *PipeReceiveStream) CancelRead(code dquic.StreamErrorCode) {
	s.mu.Lock()
	if s.cancelCode == nil {
		s.cancelCode = &code
	}
	s.mu.Unlock()

	_ = s.pr.CloseWithError(&StreamCanceledError{Code: code})
}

// ReadCanceled reports whether CancelRead has been called,
// and the code given to the first call.
func (s *PipeReceiveStream) ReadCanceled() (dquic.StreamErrorCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelCode == nil {
		return 0, false
	}
	return *s.cancelCode, true
}

func (s *PipeReceiveStream) SetReadDeadline(time.Time) error { return nil }

// StreamCanceledError is the error observed on a pipe stream
// after the other end cancels it.
type StreamCanceledError struct {
	Code dquic.StreamErrorCode
}

func (e *StreamCanceledError) Error() string {
	return fmt.Sprintf("stream canceled with code 0x%x", uint64(e.Code))
}

// IsStreamCanceled reports whether err is a [*StreamCanceledError].
func IsStreamCanceled(err error) bool {
	var sce *StreamCanceledError
	return errors.As(err, &sce)
}
