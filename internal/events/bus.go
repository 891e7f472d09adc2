// Package events provides the in-process domain event bus. Handlers publish
// only after their transaction has committed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/pkg/types"
)

// Type names a domain event.
type Type string

const (
	FieldCreated  Type = "field_created"
	FieldUpdated  Type = "field_updated"
	FieldDeleted  Type = "field_deleted"
	FieldRestored Type = "field_restored"
	RowCreated    Type = "row_created"
	RowUpdated    Type = "row_updated"
	RowDeleted    Type = "row_deleted"
	ViewCreated   Type = "view_created"
	ViewUpdated   Type = "view_updated"
	ViewDeleted   Type = "view_deleted"
	TableCreated  Type = "table_created"
	TableUpdated  Type = "table_updated"
	TableDeleted  Type = "table_deleted"
)

// Event is one domain notification. Only the members relevant to the event
// type are set.
type Event struct {
	ID        string
	Type      Type
	User      types.UserID
	TableID   int64
	Timestamp time.Time

	Field         *types.Field
	RelatedFields []*types.Field
	View          *types.View
	Table         *types.Table

	// Row and RowBefore are serialized rows keyed by "id", "order" and
	// "field_<id>".
	Row       map[string]any
	RowBefore map[string]any
}

// New returns an event with a fresh id and timestamp.
func New(t Type, user types.UserID, tableID int64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		User:      user,
		TableID:   tableID,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher is implemented by anything that accepts events.
type Publisher interface {
	Publish(ev Event)
}

// Bus provides in-process pub/sub for domain events.
type Bus struct {
	subscribers sync.Map
	bufferSize  int
	log         *logrus.Entry
}

// NewBus creates a new bus. Each subscriber gets a channel of bufferSize.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		bufferSize: bufferSize,
		log:        logging.For("events"),
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full, the event is dropped.
func (b *Bus) Publish(ev Event) {
	b.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(ev.Type) {
			select {
			case sub.Ch <- ev:
			default:
				b.log.WithFields(logrus.Fields{
					"subscriber": sub.ID,
					"event":      ev.Type,
				}).Warn("subscriber channel full, event dropped")
			}
		}
		return true
	})
}

// Subscribe adds a subscriber receiving the given event types, or every
// event when none are given.
func (b *Bus) Subscribe(filters ...Type) *Subscriber {
	sub := &Subscriber{
		ID:      "sub_" + uuid.NewString(),
		Filters: filters,
		Ch:      make(chan Event, b.bufferSize),
	}
	b.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	if value, ok := b.subscribers.LoadAndDelete(subID); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber represents an event subscriber.
type Subscriber struct {
	ID      string
	Filters []Type
	Ch      chan Event
}

func (s *Subscriber) matches(t Type) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == t {
			return true
		}
	}
	return false
}

// Drain returns the events currently buffered for the subscriber without
// blocking.
func (s *Subscriber) Drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}
