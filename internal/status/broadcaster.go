package status

import "sync"

// DefaultBuffer is the per-subscriber queue depth when none is configured.
const DefaultBuffer = 16

// Broadcaster fans status transitions out to any number of subscribers.
// Each subscriber owns a bounded channel; when it is full the oldest
// queued update is dropped to make room (drop-oldest policy). Publish
// therefore never blocks, which the supervisor's lock path depends on.
// Subscribers attached after a transition do not see it.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Update
	nextID int
	buffer int
	closed bool
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{subs: make(map[int]chan Update), buffer: buffer}
}

// Subscribe attaches a new subscriber. The returned cancel func detaches
// it and closes the channel; calling cancel more than once is safe.
func (b *Broadcaster) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Update)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Update, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers u to every live subscriber without blocking.
func (b *Broadcaster) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- u:
			default:
				// Full queue: evict the oldest update and retry once.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close detaches and closes every subscriber. Publish after Close is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Len reports the current number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
