package settings

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned when a key name does not match any setting.
var ErrUnknownKey = errors.New("unknown setting")

// Key identifies one of the persisted console settings.
type Key int

const (
	KeyAuthPayload Key = iota
	KeyEditorCol
	KeyEditorLine
	KeyNotificationEnabled
	KeyNotificationDelay
	KeyQueryText
	KeyEditorSplitterBasis
	KeyResultsSplitterBasis
	KeyExampleQueriesVisited
)

// Kind is the semantic type of a setting's value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Defaults shared by the parse rules. editorCol and editorLine both start
// at line/column 10.
const (
	DefaultEditorCol            = 10
	DefaultEditorLine           = 10
	DefaultNotificationEnabled  = true
	DefaultNotificationDelay    = 5
	DefaultEditorSplitterBasis  = 350
	DefaultResultsSplitterBasis = 350
)

type keySpec struct {
	name    string
	storage string
	kind    Kind
	secret  bool
	parse   func(raw string) any
	apply   func(s *Snapshot, v any)
	extract func(s Snapshot) any
}

func intRule(def int) func(string) any {
	return func(raw string) any { return ParseInteger(raw, def) }
}

func boolRule(def bool) func(string) any {
	return func(raw string) any { return ParseBoolean(raw, def) }
}

func rawString(raw string) any { return raw }

var specs = [...]keySpec{
	KeyAuthPayload: {
		name: "authPayload", storage: "auth.payload", kind: KindString, secret: true,
		parse:   rawString,
		apply:   func(s *Snapshot, v any) { s.AuthPayload = v.(string) },
		extract: func(s Snapshot) any { return s.AuthPayload },
	},
	KeyEditorCol: {
		name: "editorCol", storage: "editor.col", kind: KindInt,
		parse:   intRule(DefaultEditorCol),
		apply:   func(s *Snapshot, v any) { s.EditorCol = v.(int) },
		extract: func(s Snapshot) any { return s.EditorCol },
	},
	KeyEditorLine: {
		name: "editorLine", storage: "editor.line", kind: KindInt,
		parse:   intRule(DefaultEditorLine),
		apply:   func(s *Snapshot, v any) { s.EditorLine = v.(int) },
		extract: func(s Snapshot) any { return s.EditorLine },
	},
	KeyNotificationEnabled: {
		name: "isNotificationEnabled", storage: "notification.enabled", kind: KindBool,
		parse:   boolRule(DefaultNotificationEnabled),
		apply:   func(s *Snapshot, v any) { s.IsNotificationEnabled = v.(bool) },
		extract: func(s Snapshot) any { return s.IsNotificationEnabled },
	},
	KeyNotificationDelay: {
		name: "notificationDelay", storage: "notification.delay", kind: KindInt,
		parse:   intRule(DefaultNotificationDelay),
		apply:   func(s *Snapshot, v any) { s.NotificationDelay = v.(int) },
		extract: func(s Snapshot) any { return s.NotificationDelay },
	},
	KeyQueryText: {
		name: "queryText", storage: "query.text", kind: KindString,
		parse:   rawString,
		apply:   func(s *Snapshot, v any) { s.QueryText = v.(string) },
		extract: func(s Snapshot) any { return s.QueryText },
	},
	KeyEditorSplitterBasis: {
		name: "editorSplitterBasis", storage: "splitter.editor.basis", kind: KindInt,
		parse:   intRule(DefaultEditorSplitterBasis),
		apply:   func(s *Snapshot, v any) { s.EditorSplitterBasis = v.(int) },
		extract: func(s Snapshot) any { return s.EditorSplitterBasis },
	},
	KeyResultsSplitterBasis: {
		name: "resultsSplitterBasis", storage: "splitter.results.basis", kind: KindInt,
		parse:   intRule(DefaultResultsSplitterBasis),
		apply:   func(s *Snapshot, v any) { s.ResultsSplitterBasis = v.(int) },
		extract: func(s Snapshot) any { return s.ResultsSplitterBasis },
	},
	// Only the exact string "true" marks the example queries as visited.
	KeyExampleQueriesVisited: {
		name: "exampleQueriesVisited", storage: "editor.example_queries_visited", kind: KindBool,
		parse:   func(raw string) any { return raw == "true" },
		apply:   func(s *Snapshot, v any) { s.ExampleQueriesVisited = v.(bool) },
		extract: func(s Snapshot) any { return s.ExampleQueriesVisited },
	},
}

// Keys returns every setting in declaration order.
func Keys() []Key {
	keys := make([]Key, len(specs))
	for i := range specs {
		keys[i] = Key(i)
	}
	return keys
}

// ParseKey resolves either the console name ("editorCol") or the storage
// key ("editor.col").
func ParseKey(name string) (Key, error) {
	for i, s := range specs {
		if s.name == name || s.storage == name {
			return Key(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

func (k Key) valid() bool { return k >= 0 && int(k) < len(specs) }

// String returns the console name of the setting.
func (k Key) String() string {
	if !k.valid() {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return specs[k].name
}

// StorageKey returns the key under which the setting is persisted.
func (k Key) StorageKey() string {
	if !k.valid() {
		return ""
	}
	return specs[k].storage
}

// Kind returns the semantic type of the setting.
func (k Key) Kind() Kind {
	if !k.valid() {
		return -1
	}
	return specs[k].kind
}

// Secret reports whether the value should be hidden from listings.
func (k Key) Secret() bool {
	return k.valid() && specs[k].secret
}

// Default returns the value the setting takes when nothing is stored.
func (k Key) Default() any {
	if !k.valid() {
		return nil
	}
	return specs[k].parse("")
}
