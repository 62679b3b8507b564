package notify

import (
	"sync"
)

// EventKind distinguishes posts from dismissals
type EventKind string

const (
	EventPosted    EventKind = "posted"
	EventCancelled EventKind = "cancelled"
)

// Event is one call recorded by a Recorder
type Event struct {
	Kind         EventKind
	ID           int
	Notification Notification
}

// Recorder is an in-memory Service. It keeps every call in order and the
// currently active notification per id.
type Recorder struct {
	mu       sync.Mutex
	channels map[string]Channel
	active   map[int]Notification
	events   []Event

	// OnEvent, if set, is called after each recorded event, outside the lock.
	OnEvent func(Event)
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		channels: make(map[string]Channel),
		active:   make(map[int]Notification),
	}
}

// CreateChannel registers ch; creating an existing channel again updates it
func (r *Recorder) CreateChannel(ch Channel) error {
	if ch.ID == "" {
		return ErrInvalidChannel
	}
	r.mu.Lock()
	r.channels[ch.ID] = ch
	r.mu.Unlock()
	return nil
}

// Notify posts or replaces the notification under id
func (r *Recorder) Notify(id int, n Notification) error {
	r.mu.Lock()
	if _, ok := r.channels[n.ChannelID]; !ok {
		r.mu.Unlock()
		return ErrUnknownChannel
	}
	r.active[id] = n
	ev := Event{Kind: EventPosted, ID: id, Notification: n}
	r.events = append(r.events, ev)
	hook := r.OnEvent
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

// Cancel dismisses the notification under id. Cancelling an absent id is a no-op.
func (r *Recorder) Cancel(id int) error {
	r.mu.Lock()
	n, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.active, id)
	ev := Event{Kind: EventCancelled, ID: id, Notification: n}
	r.events = append(r.events, ev)
	hook := r.OnEvent
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

// Channel returns a created channel
func (r *Recorder) Channel(id string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Active returns the notification currently shown under id
func (r *Recorder) Active(id int) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.active[id]
	return n, ok
}

// Events returns a copy of every recorded event in order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Posts returns every notification posted under id, in order
func (r *Recorder) Posts(id int) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var posts []Notification
	for _, ev := range r.events {
		if ev.Kind == EventPosted && ev.ID == id {
			posts = append(posts, ev.Notification)
		}
	}
	return posts
}
