package storage

import (
	"fmt"
	"path/filepath"
)

// Backend kinds accepted by OpenBackend.
const (
	KindSQLite = "sqlite"
	KindFile   = "file"
	KindMemory = "memory"
)

// Backend is the durable key-value medium behind the settings store.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	All() (map[string]string, error)
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FileStore)(nil)
	_ Backend = (*MemoryStore)(nil)
)

// OpenBackend opens the backend named by kind, rooted at dataDir.
func OpenBackend(kind, dataDir string) (Backend, error) {
	switch kind {
	case KindSQLite, "":
		s, err := Open(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindFile:
		f, err := OpenFile(filepath.Join(dataDir, "settings.json"))
		if err != nil {
			return nil, err
		}
		return f, nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %s, %s or %s)", kind, KindSQLite, KindFile, KindMemory)
	}
}
