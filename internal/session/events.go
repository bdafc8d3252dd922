package session

import "sync"

// Listener is the callback contract exposed to the call UI controller.
// All handlers are optional; absent handlers are simply not invoked.
// Handlers run on the event-delivery goroutine and must not block.
type Listener struct {
	OnRegistered   func()
	OnUnregistered func()
	// OnCallReceived carries the remote address of an inbound invitation.
	OnCallReceived func(remote string)
	OnCallStarted  func()
	OnCallEnded    func()
	OnCallFailed   func(reason string)
}

// notifier fans events out to any number of subscribers. Subscription is
// explicit and revocable rather than a last-writer-wins callback field.
type notifier struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[int]Listener)}
}

// subscribe adds a listener and returns a function that removes it.
func (n *notifier) subscribe(l Listener) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) snapshot() []Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		out = append(out, l)
	}
	return out
}

func (n *notifier) registered() {
	for _, l := range n.snapshot() {
		if l.OnRegistered != nil {
			l.OnRegistered()
		}
	}
}

func (n *notifier) unregistered() {
	for _, l := range n.snapshot() {
		if l.OnUnregistered != nil {
			l.OnUnregistered()
		}
	}
}

func (n *notifier) callReceived(remote string) {
	for _, l := range n.snapshot() {
		if l.OnCallReceived != nil {
			l.OnCallReceived(remote)
		}
	}
}

func (n *notifier) callStarted() {
	for _, l := range n.snapshot() {
		if l.OnCallStarted != nil {
			l.OnCallStarted()
		}
	}
}

func (n *notifier) callEnded() {
	for _, l := range n.snapshot() {
		if l.OnCallEnded != nil {
			l.OnCallEnded()
		}
	}
}

func (n *notifier) callFailed(reason string) {
	for _, l := range n.snapshot() {
		if l.OnCallFailed != nil {
			l.OnCallFailed(reason)
		}
	}
}
