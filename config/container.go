package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// Container holds a validated config snapshot for concurrent readers.
type Container[T any] struct {
	current   atomic.Pointer[T]
	mu        sync.Mutex
	validate  *validator.Validate
	listeners []func(T)
}

func NewContainer[T any](initial T) *Container[T] {
	c := &Container[T]{validate: validator.New()}
	c.current.Store(&initial)
	return c
}

// Get returns the current snapshot. It never blocks.
func (c *Container[T]) Get() *T {
	return c.current.Load()
}

// OnUpdate registers fn to run after each accepted update.
func (c *Container[T]) OnUpdate(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Update validates next and swaps it in. An invalid config leaves the
// previous snapshot active.
func (c *Container[T]) Update(next T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.validate.Struct(next); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	c.current.Store(&next)
	for _, fn := range c.listeners {
		fn(next)
	}
	return nil
}
