// Package settings keeps the console's persisted preferences in memory and
// in sync with durable storage.
//
// The Store reads every key once in Init and afterwards serves all reads
// from its cache. Update writes the new value, reads it back from storage
// and caches the re-parsed result, so the cache always reflects what is
// actually stored. Observers registered with Subscribe or SubscribeKey run
// synchronously after each update.
package settings

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/prefsd/internal/notify"
)

// Backend is the durable key-value medium the Store persists to.
// Implemented by storage.Store, storage.FileStore and storage.MemoryStore.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
}

// Snapshot is the full set of cached settings.
type Snapshot struct {
	AuthPayload           string `json:"authPayload" yaml:"authPayload"`
	EditorCol             int    `json:"editorCol" yaml:"editorCol"`
	EditorLine            int    `json:"editorLine" yaml:"editorLine"`
	IsNotificationEnabled bool   `json:"isNotificationEnabled" yaml:"isNotificationEnabled"`
	NotificationDelay     int    `json:"notificationDelay" yaml:"notificationDelay"`
	QueryText             string `json:"queryText" yaml:"queryText"`
	EditorSplitterBasis   int    `json:"editorSplitterBasis" yaml:"editorSplitterBasis"`
	ResultsSplitterBasis  int    `json:"resultsSplitterBasis" yaml:"resultsSplitterBasis"`
	ExampleQueriesVisited bool   `json:"exampleQueriesVisited" yaml:"exampleQueriesVisited"`
}

// Defaults returns the snapshot of an empty storage.
func Defaults() Snapshot {
	var s Snapshot
	for i, spec := range specs {
		spec.apply(&s, Key(i).Default())
	}
	return s
}

// Get returns the value of key held in the snapshot.
func (s Snapshot) Get(key Key) any {
	if !key.valid() {
		return nil
	}
	return specs[key].extract(s)
}

// Redacted returns a copy with secret values masked.
func (s Snapshot) Redacted() Snapshot {
	for _, key := range Keys() {
		if !key.Secret() {
			continue
		}
		if v, _ := s.Get(key).(string); v != "" {
			specs[key].apply(&s, RedactedValue)
		}
	}
	return s
}

// RedactedValue replaces secret values in listings.
const RedactedValue = "********"

// Change is delivered to observers after a setting is updated.
type Change = notify.Change

// Store is the in-memory projection of the persisted settings.
type Store struct {
	backend  Backend
	notifier *notify.Notifier
	logger   *slog.Logger

	mu    sync.RWMutex
	cache Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNotifier shares an existing notifier instead of creating one.
func WithNotifier(n *notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// New creates a Store over backend. The cache holds defaults until Init.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		cache:   Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.New()
	}
	return s
}

// Open creates a Store over backend and loads it.
func Open(backend Backend, opts ...Option) *Store {
	s := New(backend, opts...)
	s.Init()
	return s
}

// Init reads every setting from storage into the cache. It never fails:
// unparsable values take their default and a storage read error is logged
// and treated as an absent value.
func (s *Store) Init() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range Keys() {
		raw, _, err := s.backend.Get(key.StorageKey())
		if err != nil {
			s.logger.Warn("settings: reading stored value failed, using default", "key", key.StorageKey(), "error", err)
			raw = ""
		}
		specs[key].apply(&s.cache, s.parse(key, raw))
	}
	return s.cache
}

// Get returns the cached value of key, or nil for an unknown key.
func (s *Store) Get(key Key) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(key)
}

// Snapshot returns a copy of every cached setting.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// AuthPayload returns the cached auth token.
func (s *Store) AuthPayload() string { return s.Snapshot().AuthPayload }

// EditorCol returns the cached editor cursor column.
func (s *Store) EditorCol() int { return s.Snapshot().EditorCol }

// EditorLine returns the cached editor cursor line.
func (s *Store) EditorLine() int { return s.Snapshot().EditorLine }

// IsNotificationEnabled reports whether notifications are on.
func (s *Store) IsNotificationEnabled() bool { return s.Snapshot().IsNotificationEnabled }

// NotificationDelay returns the cached notification delay.
func (s *Store) NotificationDelay() int { return s.Snapshot().NotificationDelay }

// QueryText returns the saved query text.
func (s *Store) QueryText() string { return s.Snapshot().QueryText }

// EditorSplitterBasis returns the editor splitter position.
func (s *Store) EditorSplitterBasis() int { return s.Snapshot().EditorSplitterBasis }

// ResultsSplitterBasis returns the results splitter position.
func (s *Store) ResultsSplitterBasis() int { return s.Snapshot().ResultsSplitterBasis }

// ExampleQueriesVisited reports whether the example queries were opened.
func (s *Store) ExampleQueriesVisited() bool { return s.Snapshot().ExampleQueriesVisited }

// Update persists value under key and refreshes the cached value from what
// storage returns. Storage errors are returned as-is and leave the cache
// unchanged.
func (s *Store) Update(key Key, value any) error {
	return s.UpdateFrom("", key, value)
}

// UpdateFrom is Update with the source recorded on the emitted Change.
func (s *Store) UpdateFrom(source string, key Key, value any) error {
	if !key.valid() {
		return fmt.Errorf("%w: %v", ErrUnknownKey, key)
	}

	s.mu.Lock()
	if err := s.backend.Set(key.StorageKey(), Stringify(value)); err != nil {
		s.mu.Unlock()
		return err
	}
	change, err := s.refreshLocked(key, source)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Notify(change)
	return nil
}

// Refresh re-reads key from storage, for values changed outside the Store.
func (s *Store) Refresh(key Key) error {
	if !key.valid() {
		return fmt.Errorf("%w: %v", ErrUnknownKey, key)
	}

	s.mu.Lock()
	change, err := s.refreshLocked(key, "refresh")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifier.Notify(change)
	return nil
}

func (s *Store) refreshLocked(key Key, source string) (Change, error) {
	raw, _, err := s.backend.Get(key.StorageKey())
	if err != nil {
		return Change{}, err
	}

	old := s.cache.Get(key)
	v := s.parse(key, raw)
	specs[key].apply(&s.cache, v)

	return Change{Key: key.StorageKey(), Old: old, New: v, Source: source}, nil
}

func (s *Store) parse(key Key, raw string) any {
	v := specs[key].parse(raw)
	if raw != "" && Stringify(v) != raw && specs[key].kind != KindString {
		s.logger.Debug("settings: stored value not valid, using default", "key", key.StorageKey(), "raw", raw, "value", v)
	}
	return v
}

// Subscribe registers fn for every change.
func (s *Store) Subscribe(fn func(Change)) *notify.Subscription {
	return s.notifier.Subscribe(fn)
}

// SubscribeKey registers fn for changes to key only.
func (s *Store) SubscribeKey(key Key, fn func(Change)) *notify.Subscription {
	return s.notifier.SubscribeKey(key.StorageKey(), fn)
}

// Observers reports how many observers are subscribed.
func (s *Store) Observers() int {
	return s.notifier.Len()
}
