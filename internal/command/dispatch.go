package command

import (
	"log/slog"
	"sync"
)

// Handler runs a method against a resolved target.
type Handler[T any] func(target T, args []any) error

// Dispatcher maps method names to handlers.
type Dispatcher[T any] struct {
	mu      sync.RWMutex
	methods map[string]Handler[T]
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{methods: make(map[string]Handler[T])}
}

// Register binds a handler to a method name, replacing any previous one.
func (d *Dispatcher[T]) Register(method string, h Handler[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[method] = h
}

func (d *Dispatcher[T]) handler(method string) (Handler[T], bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.methods[method]
	return h, ok
}

// Dispatch applies every invoke command whose selector resolves and whose
// method is registered. Anything else is skipped. It returns the number of
// commands applied.
func (d *Dispatcher[T]) Dispatch(cmds []ResponseCommand, resolve func(selector string) (T, bool)) int {
	applied := 0
	for _, cmd := range cmds {
		if cmd.Command != KindInvoke {
			continue
		}
		h, ok := d.handler(cmd.Method)
		if !ok {
			slog.Debug("Skipping command with unknown method", "method", cmd.Method, "selector", cmd.Selector)
			continue
		}
		target, ok := resolve(cmd.Selector)
		if !ok {
			slog.Debug("Skipping command with unresolved selector", "selector", cmd.Selector)
			continue
		}
		if err := h(target, cmd.Arguments); err != nil {
			slog.Debug("Command failed", "method", cmd.Method, "selector", cmd.Selector, "error", err)
			continue
		}
		applied++
	}
	return applied
}
