package identity

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const defaultEventBuffer = 32

// dispatcher fans events out to listeners from a single goroutine so
// every listener observes the same order the events were emitted in.
type dispatcher struct {
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func newDispatcher(buffer int) *dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &dispatcher{
		ch:        make(chan Event, buffer),
		done:      make(chan struct{}),
		listeners: make(map[int]Listener),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) deliver(event Event) {
	if event.barrier != nil {
		close(event.barrier)
		return
	}

	d.mu.Lock()
	ids := make([]int, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	snapshot := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		snapshot = append(snapshot, d.listeners[id])
	}
	d.mu.Unlock()

	for _, listener := range snapshot {
		listener(event)
	}
}

func (d *dispatcher) subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = listener
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// emit blocks until the event is queued; events emitted after close are dropped.
func (d *dispatcher) emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- event:
	case <-d.done:
	}
}

// flush returns once every event emitted before the call has been delivered.
// It must not be called from inside a listener.
func (d *dispatcher) flush(ctx context.Context) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	barrier := make(chan struct{})
	select {
	case d.ch <- Event{barrier: barrier}:
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-d.done:
		d.wg.Wait()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting events and waits for queued ones to be delivered.
// It must not be called from inside a listener.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
