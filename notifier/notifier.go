package notifier

import (
	"sync"
)

// Event is a single run state change. Kind is one of "run" or "job";
// ID names the run or the job instance that changed, Status its new
// state.
type Event struct {
	Kind   string
	ID     string
	Status string
}

// Notifier fans out run state changes to subscribers. Subscribers that
// fall behind lose events rather than blocking the engine.
type Notifier struct {
	subscribers map[chan Event]struct{}
	mu          sync.Mutex
}

func New() Notifier {
	return Notifier{
		subscribers: make(map[chan Event]struct{}),
	}
}

func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 64)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	delete(n.subscribers, ch)
	close(ch)
	n.mu.Unlock()
}

func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	for ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			// avoid blocking if channel is full
		}
	}
	n.mu.Unlock()
}
