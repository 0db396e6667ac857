// ABOUTME: Ordered, policy-bounded queue feeding gateway events to consumers
// ABOUTME: Supports push (channel) or pull (Next) consumption with explicit back-pressure

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Policy selects the behaviour when the buffer is full.
type Policy string

const (
	Block      Policy = "block"
	DropOldest Policy = "drop_oldest"
	Unbounded  Policy = "unbounded"
)

// DefaultSize is the buffer size used when none is configured.
const DefaultSize = 256

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("feed closed")

	// ErrDrained is returned by Next once the feed is closed and empty.
	ErrDrained = errors.New("feed drained")

	// ErrModeConflict is returned when push and pull consumption are mixed.
	ErrModeConflict = errors.New("feed already consumed in the other mode")
)

// ParsePolicy converts a config string to a Policy. Empty selects Block.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return Block, nil
	case Block, DropOldest, Unbounded:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown feed policy %q", s)
}

type mode int

const (
	modeNone mode = iota
	modePush
	modePull
)

// Feed is an ordered queue of T.
type Feed[T any] struct {
	policy Policy
	size   int
	onDrop func(T)

	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{} // closed and replaced on every state change
	mode   mode
	out    chan T
}

// New creates a feed. size is ignored for Unbounded; a non-positive size
// selects DefaultSize. onDrop may be nil.
func New[T any](policy Policy, size int, onDrop func(T)) (*Feed[T], error) {
	switch policy {
	case Block, DropOldest, Unbounded:
	default:
		return nil, fmt.Errorf("unknown feed policy %q", policy)
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Feed[T]{
		policy: policy,
		size:   size,
		onDrop: onDrop,
		wake:   make(chan struct{}),
	}, nil
}

// broadcastLocked wakes every waiter. Must be called with mu held.
func (f *Feed[T]) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

// Publish appends v. Under Block it waits for room or ctx cancellation.
func (f *Feed[T]) Publish(ctx context.Context, v T) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrClosed
		}

		if f.policy == Unbounded || len(f.items) < f.size {
			f.items = append(f.items, v)
			f.broadcastLocked()
			f.mu.Unlock()
			return nil
		}

		if f.policy == DropOldest {
			dropped := f.items[0]
			var zero T
			f.items[0] = zero
			f.items = append(f.items[1:], v)
			f.broadcastLocked()
			f.mu.Unlock()
			if f.onDrop != nil {
				f.onDrop(dropped)
			}
			return nil
		}

		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next removes and returns the oldest item, waiting until one is available.
func (f *Feed[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := f.claim(modePull); err != nil {
		return zero, err
	}
	return f.pop(ctx)
}

func (f *Feed[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		f.mu.Lock()
		if len(f.items) > 0 {
			v := f.items[0]
			f.items[0] = zero
			f.items = f.items[1:]
			f.broadcastLocked()
			f.mu.Unlock()
			return v, nil
		}
		if f.closed {
			f.mu.Unlock()
			return zero, ErrDrained
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Stream returns a channel delivering items in order. The channel is closed
// once the feed is closed and drained, or as soon as ctx is done; a consumer
// that stops reading early cancels ctx to release the delivery goroutine.
// Calling Stream again returns the same channel, bound to the first ctx.
func (f *Feed[T]) Stream(ctx context.Context) (<-chan T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.mode {
	case modePull:
		return nil, ErrModeConflict
	case modePush:
		return f.out, nil
	}
	f.mode = modePush
	f.out = make(chan T)
	go f.pump(ctx, f.out)
	return f.out, nil
}

func (f *Feed[T]) pump(ctx context.Context, out chan<- T) {
	defer close(out)
	for {
		v, err := f.pop(ctx)
		if err != nil {
			return
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed[T]) claim(m mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mode == modeNone {
		f.mode = m
		return nil
	}
	if f.mode != m {
		return ErrModeConflict
	}
	return nil
}

// Close stops further publishes and wakes all waiters.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.broadcastLocked()
}

// Len returns the number of buffered items.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Full reports whether the next Publish would wait for room. Only a Block
// feed ever waits.
func (f *Feed[T]) Full() bool {
	if f.policy != Block {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) >= f.size
}

// Policy returns the feed's back-pressure policy.
func (f *Feed[T]) Policy() Policy {
	return f.policy
}
