package sim

import (
	"slices"
	"sync"
	"sync/atomic"
)

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Now    VTime
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase keeps the hooks of a Hookable. Hooks may be attached while
// another goroutine invokes them; an invocation sees the hooks attached
// before it started.
type HookableBase struct {
	lock  sync.Mutex
	hooks atomic.Pointer[[]Hook]
}

func (h *HookableBase) list() []Hook {
	if p := h.hooks.Load(); p != nil {
		return *p
	}

	return nil
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.list())
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return slices.Clone(h.list())
}

// AcceptHook registers a hook. Registering the same hook value twice panics,
// except for HookFuncs, which cannot be compared.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	current := h.list()
	if _, isFunc := hook.(HookFunc); !isFunc && slices.Contains(current, hook) {
		panic("duplicated hook")
	}

	next := append(slices.Clip(current), hook)
	h.hooks.Store(&next)
}

// InvokeHook calls the hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.list() {
		hook.Func(ctx)
	}
}
