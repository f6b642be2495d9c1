package iedserver

import (
	"fmt"
	"sync"
)

// LogStorage is a log storage backend opened by the engine. Bind it to a log
// with IedServer.SetLogStorage.
type LogStorage struct {
	engine  Engine
	handle  Handle
	backend string

	mu     sync.Mutex
	closed bool
}

// NewLogStorage opens a storage backend. Backends the engine was built
// without fail with an error wrapping ErrCapabilityAbsent.
func NewLogStorage(engine Engine, backend, location string) (*LogStorage, error) {
	h, err := engine.CreateLogStorage(backend, location)
	if err != nil {
		return nil, fmt.Errorf("NewLogStorage backend=%s: %w", backend, err)
	}
	return &LogStorage{engine: engine, handle: h, backend: backend}, nil
}

func (l *LogStorage) Handle() Handle  { return l.handle }
func (l *LogStorage) Backend() string { return l.backend }

// SetMaxLogEntries limits the number of entries the storage keeps.
func (l *LogStorage) SetMaxLogEntries(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.engine.SetLogStorageMaxEntries(l.handle, n)
}

// Close releases the backend. Unbind it from every log first.
func (l *LogStorage) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.engine.DestroyLogStorage(l.handle)
}
