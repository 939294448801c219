// Package observe fans the latest value of something out to any number of
// readers. Slow readers skip intermediate values instead of blocking the
// publisher.
package observe

import "sync"

type Broadcaster[T any] struct {
	mu     sync.Mutex
	latest T
	subs   map[int]chan T
	next   int
}

func NewBroadcaster[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{latest: initial, subs: make(map[int]chan T)}
}

func (b *Broadcaster[T]) Latest() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = v
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Subscribe returns a channel primed with the current value and a func
// that detaches it.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan T, 1)
	ch <- b.latest
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}
