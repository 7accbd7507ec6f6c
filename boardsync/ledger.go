package boardsync

// entry tracks one entity of a view: the value shown to the user, the last
// value the store confirmed, and the sequence number of the newest mutation
// issued for it. Only the response to the newest mutation may replace the
// shown value; older responses update the confirmed value and are otherwise
// discarded.
type entry[T any] struct {
	current   T
	confirmed T
	issued    uint64
}

func newEntry[T any](v T) *entry[T] {
	return &entry[T]{current: v, confirmed: v}
}

// propose applies an optimistic value for mutation seq.
func (e *entry[T]) propose(seq uint64, v T) {
	e.issued = seq
	e.current = v
}

// confirm records the store's row for mutation seq. It reports false when a
// newer mutation is outstanding, in which case the shown value is kept.
func (e *entry[T]) confirm(seq uint64, v T) bool {
	e.confirmed = v
	if seq != e.issued {
		return false
	}
	e.current = v
	return true
}

// reject rolls the shown value back to the confirmed one if seq is the
// newest mutation. It reports whether a rollback happened.
func (e *entry[T]) reject(seq uint64) bool {
	if seq != e.issued {
		return false
	}
	e.current = e.confirmed
	return true
}

// pendingSince reports whether a mutation newer than seq was issued.
func (e *entry[T]) pendingSince(seq uint64) bool {
	return e.issued > seq
}

// Pending is the outcome of a mutation submitted to a View. Mutations are
// applied locally when submitted; Wait blocks until the store answered and
// the view reconciled.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

func settled[T any](err error) *Pending[T] {
	p := newPending[T]()
	p.settle(*new(T), err)
	return p
}

func (p *Pending[T]) settle(v T, err error) {
	p.val, p.err = v, err
	close(p.done)
}

// Done is closed once the mutation settled.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait returns the store's row or the failure.
func (p *Pending[T]) Wait() (T, error) {
	<-p.done
	return p.val, p.err
}

// Err waits and returns only the failure.
func (p *Pending[T]) Err() error {
	_, err := p.Wait()
	return err
}
