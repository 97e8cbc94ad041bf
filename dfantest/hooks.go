// Package dfantest contains helpers for testing code built on dfan.
package dfantest

import (
	"slices"
	"sync"
	"testing"

	"github.com/gordian-engine/dfan"
	"github.com/gordian-engine/dfan/internal/dtest"
)

// Hook names recorded by [RecordingHooks].
const (
	AttachHook      = "attach"
	FirstAttachHook = "first_attach"
	DetachHook      = "detach"
	LastDetachHook  = "last_detach"
)

// RecordingHooks is a [dfan.Hooks] implementation
// that records the name of every notification it receives, in order.
type RecordingHooks struct {
	mu    sync.Mutex
	calls []string
}

var _ dfan.Hooks = (*RecordingHooks)(nil)

func (h *RecordingHooks) OnAttach()      { h.record(AttachHook) }
func (h *RecordingHooks) OnFirstAttach() { h.record(FirstAttachHook) }
func (h *RecordingHooks) OnDetach()      { h.record(DetachHook) }
func (h *RecordingHooks) OnLastDetach()  { h.record(LastDetachHook) }

func (h *RecordingHooks) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
}

// Calls returns a copy of the recorded notification names.
func (h *RecordingHooks) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// Count returns how many times the named notification was recorded.
func (h *RecordingHooks) Count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, c := range h.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Reset discards all recorded notifications.
func (h *RecordingHooks) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// NewBroadcaster returns a broadcaster logging to t,
// with a fresh [RecordingHooks] installed.
func NewBroadcaster[T any](t testing.TB) (*dfan.Broadcaster[T], *RecordingHooks) {
	t.Helper()

	h := new(RecordingHooks)
	b := dfan.NewBroadcaster[T](dtest.NewLogger(t), dfan.BroadcasterConfig{
		Hooks: h,
	})
	return b, h
}
