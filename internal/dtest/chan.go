package dtest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// soon is how long the *Soon helpers wait before failing the test.
// Generous enough for a loaded CI machine,
// short enough that a hung goroutine fails fast.
const soon = 250 * time.Millisecond

// notSendingWait is how long NotSending watches a channel.
const notSendingWait = 10 * time.Millisecond

// NewLogger returns a logger that writes through t.Log,
// so output is only shown for failing or verbose tests.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t)
}

// NewQuietLogger is like [NewLogger] but only writes errors.
// It suits property tests, where per-iteration debug output
// would bury the failing case.
func NewQuietLogger(t testing.TB) *slog.Logger {
	return slogt.New(t, slogt.Factory(func(w io.Writer) slog.Handler {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelError})
	}))
}

// ReceiveSoon returns the next value from ch,
// failing the test if no value arrives shortly.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(soon)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", soon)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete shortly.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(soon)
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("send not accepted within %s", soon)
	}
}

// IsSending returns a value from ch that must already be available,
// failing the test otherwise.
// Closed channels count as sending.
func IsSending[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	default:
		t.Fatal("channel was not ready to receive")
	}

	panic("unreachable")
}

// NotSending fails the test if ch produces a value
// within a short window.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(notSendingWait)
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, but received %v", v)
	case <-timer.C:
	}
}
