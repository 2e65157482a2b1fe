// Package notify - in-process change notification
package notify

import (
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
)

// DefaultBufferSize event buffer size of a subscription when none is given
const DefaultBufferSize = 64

// Subscription one registered observer
type Subscription struct {
	// ID subscription ID
	ID string
	// Events delivers change events in publish order. Closed on unsubscribe, on hub close,
	// or when the subscriber falls behind by more than its buffer.
	Events <-chan models.ChangeEvent

	events chan models.ChangeEvent
}

// Hub fans change events out to every subscriber
//
// Publish never blocks. A subscriber whose buffer is full is dropped and its channel
// closed, so it learns it missed events and may re-read state and subscribe again.
type Hub struct {
	goutils.Component
	lock        sync.Mutex
	subscribers map[string]*Subscription
	closed      bool
}

// NewHub define a new change notification hub
func NewHub() *Hub {
	logTags := log.Fields{"package": "stockpile", "module": "notify", "component": "hub"}
	return &Hub{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		subscribers: map[string]*Subscription{},
	}
}

/*
Subscribe register a new observer

	@param bufferSize int - number of undelivered events tolerated before the
	    subscriber is dropped
	@returns the subscription
*/
func (h *Hub) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	events := make(chan models.ChangeEvent, bufferSize)
	sub := &Subscription{ID: ulid.Make().String(), Events: events, events: events}

	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		close(events)
		return sub
	}
	h.subscribers[sub.ID] = sub

	log.WithFields(h.LogTags).
		WithField("subscription", sub.ID).
		WithField("subscribers", len(h.subscribers)).
		Debug("New subscriber")
	return sub
}

/*
Unsubscribe remove an observer. Safe to call more than once.

	@param sub *Subscription - the subscription
*/
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	close(sub.events)

	log.WithFields(h.LogTags).
		WithField("subscription", sub.ID).
		WithField("subscribers", len(h.subscribers)).
		Debug("Subscriber removed")
}

/*
Publish deliver an event to every subscriber

	@param event models.ChangeEvent - the event
*/
func (h *Hub) Publish(event models.ChangeEvent) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for id, sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			delete(h.subscribers, id)
			close(sub.events)
			log.WithFields(h.LogTags).
				WithField("subscription", id).
				WithField("collection", event.Collection).
				Warn("Subscriber fell behind, dropped")
		}
	}
}

// SubscriberCount number of current subscribers
func (h *Hub) SubscriberCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subscribers)
}

// Close drop every subscriber. Later subscriptions are born closed.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
	}
	log.WithFields(h.LogTags).Info("Notification hub closed")
}

// IsClosed whether the hub was closed
func (h *Hub) IsClosed() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.closed
}
