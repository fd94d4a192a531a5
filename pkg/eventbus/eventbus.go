package eventbus

// Event registration table. Components subscribe to named event kinds with
// a priority; publishing hands the payload to subscribers from the highest
// priority down until one of them reports the event as handled.

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Kind string

const (
	SwitchUp       Kind = "switch.up"
	SwitchDown     Kind = "switch.down"
	PacketIn       Kind = "packet.in"
	LinkUp         Kind = "link.up"
	LinkDown       Kind = "link.down"
	LinkDiscovered Kind = "link.discovered"
	HostDiscovered Kind = "host.discovered"
)

// Returns true when the event was handled and must not be passed on
type Handler func(payload interface{}) bool

type subscription struct {
	name     string
	priority int
	seq      uint64
	handler  Handler
}

type Bus struct {
	mutex sync.RWMutex
	subs  map[Kind][]*subscription
	seq   uint64
}

// Create a new event bus
func New() *Bus {
	return &Bus{subs: make(map[Kind][]*subscription)}
}

// Register a handler for an event kind. Higher priorities run first;
// equal priorities run in subscription order.
func (self *Bus) Subscribe(kind Kind, name string, priority int, handler Handler) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.seq++

	// Publishers may hold the old slice, build a new one
	old := self.subs[kind]
	subs := make([]*subscription, 0, len(old)+1)
	subs = append(subs, old...)
	subs = append(subs, &subscription{
		name:     name,
		priority: priority,
		seq:      self.seq,
		handler:  handler,
	})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	self.subs[kind] = subs

	log.Debugf("Subscribed %s to %s at priority %d", name, kind, priority)
}

// Remove all handlers registered under name
func (self *Bus) Unsubscribe(name string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for kind, subs := range self.subs {
		kept := subs[:0:0]
		for _, sub := range subs {
			if sub.name != name {
				kept = append(kept, sub)
			}
		}
		self.subs[kind] = kept
	}
}

// Deliver an event. Returns true if some handler handled it.
func (self *Bus) Publish(kind Kind, payload interface{}) bool {
	self.mutex.RLock()
	subs := self.subs[kind]
	self.mutex.RUnlock()

	// Handlers run without the lock so they may publish or subscribe
	for _, sub := range subs {
		if sub.handler(payload) {
			return true
		}
	}

	if len(subs) == 0 {
		log.Debugf("No subscribers for %s", kind)
	}

	return false
}

// Subscribe a handler taking a typed payload. Payloads of another type
// are not handled.
func On[T any](bus *Bus, kind Kind, name string, priority int, fn func(T) bool) {
	bus.Subscribe(kind, name, priority, func(payload interface{}) bool {
		typed, ok := payload.(T)
		if !ok {
			log.Errorf("Handler %s for %s got payload %T", name, kind, payload)
			return false
		}
		return fn(typed)
	})
}
