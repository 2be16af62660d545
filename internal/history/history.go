// Package history keeps the bounded, persisted log of supervisor alerts.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is the number of entries kept before eviction.
	DefaultCapacity = 100

	// maxPreviewLen bounds the stored chunk preview.
	maxPreviewLen = 200
)

// Entry is one recorded alert. Entries are immutable once recorded.
type Entry struct {
	ID             string    `json:"id"`
	SupervisorName string    `json:"supervisor_name"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ChunkPreview   string    `json:"chunk_preview,omitempty"`
}

// Store persists the full entry list. Implementations must tolerate being
// called on every insert.
type Store interface {
	Save(entries []Entry) error
	Load() ([]Entry, error)
}

// Log is a bounded alert log, newest entry first. Oldest entries are evicted
// when capacity is exceeded. Every insert is persisted; persistence failures
// degrade to in-memory-only operation with a logged warning.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	store    Store
	logger   *zap.Logger

	// warned suppresses repeated persistence warnings.
	warned bool
}

// NewLog creates a log, loading any persisted entries from store.
// store may be nil for an in-memory-only log.
func NewLog(capacity int, store Store, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		capacity: capacity,
		store:    store,
		logger:   logger,
	}

	if store != nil {
		entries, err := store.Load()
		if err != nil {
			logger.Warn("failed to load alert history, starting empty", zap.Error(err))
		} else {
			if len(entries) > capacity {
				entries = entries[:capacity]
			}
			l.entries = entries
		}
	}

	return l
}

// Record appends an entry. Missing ID and timestamp are filled in; the chunk
// preview is truncated to 200 characters.
func (l *Log) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if runes := []rune(e.ChunkPreview); len(runes) > maxPreviewLen {
		e.ChunkPreview = string(runes[:maxPreviewLen])
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Prepend, truncate tail on overflow.
	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}

	l.persistLocked()
}

// Entries returns a copy of all entries, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// BySupervisor returns entries recorded by the named supervisor.
func (l *Log) BySupervisor(name string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.SupervisorName == name {
			out = append(out, e)
		}
	}
	return out
}

// RecentAlerts returns alert-status entries newer than the window.
func (l *Log) RecentAlerts(window time.Duration) []Entry {
	cutoff := time.Now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Status == "alert" && e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes all entries. This is the explicit operator action; nothing
// else empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.persistLocked()
}

func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.entries); err != nil {
		if !l.warned {
			l.logger.Warn("alert history persistence failed, alerts visible this session only",
				zap.Error(err))
			l.warned = true
		}
		return
	}
	l.warned = false
}
