package boardsync

import "sync"

// fifo hands out turns in issue order. Each turn waits for the previous one
// to finish, so store calls and reconciliations of a view never overlap or
// reorder, while the submitting goroutine returns immediately.
type fifo struct {
	mu   sync.Mutex
	tail chan struct{}
}

type turn struct {
	prev <-chan struct{}
	done chan struct{}
}

func (q *fifo) next() turn {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := turn{prev: q.tail, done: make(chan struct{})}
	q.tail = t.done
	return t
}

func (t turn) wait() {
	if t.prev != nil {
		<-t.prev
	}
}

func (t turn) finish() { close(t.done) }

// idle returns a channel closed once every turn handed out so far finished.
func (q *fifo) idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return q.tail
}

// broker fans out change notifications. A slow subscriber misses
// intermediate signals but always sees the latest one.
type broker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan struct{}]struct{})}
}

func (b *broker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *broker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}
