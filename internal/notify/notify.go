// Package notify delivers settings change events to registered observers.
//
// Delivery is synchronous: Notify returns after every matching observer has
// run. Observers are invoked outside the registry lock, so an observer may
// subscribe or unsubscribe without deadlocking.
package notify

import (
	"sort"
	"sync"
)

// Change describes one settings mutation.
type Change struct {
	// Key is the storage key of the setting that changed.
	Key string

	// Old and New are the parsed values before and after the change.
	Old any
	New any

	// Source names the caller that triggered the change ("api", "mcp", ...).
	Source string
}

// Observer is called for every change it is subscribed to.
type Observer func(Change)

// Subscription is a handle returned by Subscribe and SubscribeKey.
type Subscription struct {
	id       uint64
	notifier *Notifier
	once     sync.Once
}

// Unsubscribe removes the observer. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.notifier == nil {
		return
	}
	s.once.Do(func() { s.notifier.remove(s.id) })
}

// Notifier is a registry of global and per-key observers.
type Notifier struct {
	mu     sync.RWMutex
	nextID uint64
	global map[uint64]Observer
	byKey  map[string]map[uint64]Observer
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{
		global: make(map[uint64]Observer),
		byKey:  make(map[string]map[uint64]Observer),
	}
}

// Subscribe registers an observer for every change.
func (n *Notifier) Subscribe(obs Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.global[id] = obs
	return &Subscription{id: id, notifier: n}
}

// SubscribeKey registers an observer for changes to a single key.
func (n *Notifier) SubscribeKey(key string, obs Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	if n.byKey[key] == nil {
		n.byKey[key] = make(map[uint64]Observer)
	}
	n.byKey[key][id] = obs
	return &Subscription{id: id, notifier: n}
}

// Notify runs the key's observers, then the global ones, each group in
// subscription order.
func (n *Notifier) Notify(change Change) {
	for _, obs := range n.collect(change.Key) {
		obs(change)
	}
}

// Len reports the number of registered observers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	total := len(n.global)
	for _, m := range n.byKey {
		total += len(m)
	}
	return total
}

func (n *Notifier) collect(key string) []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	observers := ordered(n.byKey[key])
	return append(observers, ordered(n.global)...)
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.global, id)
	for key, m := range n.byKey {
		delete(m, id)
		if len(m) == 0 {
			delete(n.byKey, key)
		}
	}
}

func ordered(m map[uint64]Observer) []Observer {
	if len(m) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}
