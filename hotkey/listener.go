package hotkey

import (
	"fmt"
	"sync"
	"time"
)

// Event is one debounced transition of the trigger.
type Event struct {
	Edge Edge
	At   time.Time
}

// Listener turns raw OS edges into a strictly alternating down/up stream.
// OS key repeat and duplicate reports from several keyboards are dropped.
type Listener struct {
	hk     Hotkey
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewListener(hk Hotkey) *Listener {
	return &Listener{
		hk:     hk,
		events: make(chan Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Subscribe installs the OS hook and starts delivering events. The channel
// is closed after Close.
func (l *Listener) Subscribe() (<-chan Event, error) {
	if err := l.hk.Register(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObservationUnavailable, err)
	}
	go l.run()
	return l.events, nil
}

func (l *Listener) run() {
	defer close(l.done)
	defer close(l.events)
	down := false
	edges := l.hk.Edges()
	for {
		select {
		case <-l.stop:
			return
		case e, ok := <-edges:
			if !ok {
				return
			}
			if (e == Down) == down {
				continue
			}
			down = e == Down
			select {
			case l.events <- Event{Edge: e, At: time.Now()}:
			case <-l.stop:
				return
			}
		}
	}
}

// Close unregisters the hook and stops delivery.
func (l *Listener) Close() {
	l.once.Do(func() {
		close(l.stop)
		l.hk.Unregister()
	})
}
