package dfan

// Hooks receives lifecycle notifications from a [Broadcaster].
//
// Calls are delivered one at a time, in the order the attached set changed,
// and never while the Broadcaster holds its internal lock.
// A hook may call back into the Broadcaster,
// for example to publish an initial value from OnFirstAttach.
//
// Usually the goroutine that caused a change delivers its calls.
// When another goroutine is already delivering hook calls,
// the new calls are queued and that goroutine delivers them,
// so an OnLastDetach always precedes the OnFirstAttach that follows it.
type Hooks interface {
	// OnAttach is called for every attached consumer,
	// after OnFirstAttach if that was also called.
	OnAttach()

	// OnFirstAttach is called when a consumer attaches
	// to a broadcaster that had no consumers.
	OnFirstAttach()

	// OnDetach is called for every detached consumer.
	OnDetach()

	// OnLastDetach is called after OnDetach,
	// when the detached consumer was the last one attached.
	OnLastDetach()
}

// NopHooks is a [Hooks] implementation that does nothing.
// It is the default when no hooks are configured.
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) OnAttach()      {}
func (NopHooks) OnFirstAttach() {}
func (NopHooks) OnDetach()      {}
func (NopHooks) OnLastDetach()  {}

// HookFuncs adapts individual functions into a [Hooks] value.
// Any nil field is skipped.
type HookFuncs struct {
	Attach      func()
	FirstAttach func()
	Detach      func()
	LastDetach  func()
}

var _ Hooks = HookFuncs{}

func (h HookFuncs) OnAttach() {
	if h.Attach != nil {
		h.Attach()
	}
}

func (h HookFuncs) OnFirstAttach() {
	if h.FirstAttach != nil {
		h.FirstAttach()
	}
}

func (h HookFuncs) OnDetach() {
	if h.Detach != nil {
		h.Detach()
	}
}

func (h HookFuncs) OnLastDetach() {
	if h.LastDetach != nil {
		h.LastDetach()
	}
}

// MultiHooks returns a [Hooks] that forwards each notification
// to every element of hs, in order.
func MultiHooks(hs ...Hooks) Hooks {
	return multiHooks(hs)
}

type multiHooks []Hooks

func (m multiHooks) OnAttach() {
	for _, h := range m {
		h.OnAttach()
	}
}

func (m multiHooks) OnFirstAttach() {
	for _, h := range m {
		h.OnFirstAttach()
	}
}

func (m multiHooks) OnDetach() {
	for _, h := range m {
		h.OnDetach()
	}
}

func (m multiHooks) OnLastDetach() {
	for _, h := range m {
		h.OnLastDetach()
	}
}
