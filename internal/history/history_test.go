package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_RecordFillsDefaults(t *testing.T) {
	l := NewLog(10, nil, zap.NewNop())
	l.Record(Entry{SupervisorName: "Security", Message: "leak", Status: "alert"})

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestLog_EvictsOldestAtCapacity(t *testing.T) {
	l := NewLog(100, nil, zap.NewNop())
	for i := 1; i <= 105; i++ {
		l.Record(Entry{SupervisorName: "S", Message: fmt.Sprintf("alert %d", i), Status: "alert"})
	}

	entries := l.Entries()
	require.Len(t, entries, 100)
	// Newest first; the five oldest were evicted.
	assert.Equal(t, "alert 105", entries[0].Message)
	assert.Equal(t, "alert 6", entries[99].Message)
}

func TestLog_PreviewTruncated(t *testing.T) {
	l := NewLog(10, nil, zap.NewNop())
	l.Record(Entry{Status: "alert", ChunkPreview: strings.Repeat("x", 500)})

	entries := l.Entries()
	assert.Len(t, entries[0].ChunkPreview, 200)
}

func TestLog_Filters(t *testing.T) {
	l := NewLog(10, nil, zap.NewNop())
	l.Record(Entry{SupervisorName: "Security", Status: "alert", Message: "old",
		Timestamp: time.Now().Add(-time.Hour)})
	l.Record(Entry{SupervisorName: "Security", Status: "alert", Message: "fresh"})
	l.Record(Entry{SupervisorName: "Style", Status: "ok", Message: "fine"})

	assert.Len(t, l.BySupervisor("Security"), 2)
	assert.Len(t, l.BySupervisor("Style"), 1)

	recent := l.RecentAlerts(5 * time.Minute)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Message)
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(10, nil, zap.NewNop())
	l.Record(Entry{Status: "alert"})
	l.Clear()
	assert.Zero(t, l.Len())
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "alert_history.json")
	store := NewFileStore(path)

	l := NewLog(100, store, zap.NewNop())
	l.Record(Entry{SupervisorName: "Security", Message: "leak", Status: "alert"})
	l.Record(Entry{SupervisorName: "Style", Message: "nit", Status: "alert"})

	reloaded := NewLog(100, NewFileStore(path), zap.NewNop())
	entries := reloaded.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "nit", entries[0].Message)
	assert.Equal(t, "leak", entries[1].Message)
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingStore struct{}

func (failingStore) Save([]Entry) error   { return errors.New("disk full") }
func (failingStore) Load() ([]Entry, error) { return nil, nil }

func TestLog_DegradesWhenPersistenceFails(t *testing.T) {
	l := NewLog(10, failingStore{}, zap.NewNop())
	l.Record(Entry{Status: "alert", Message: "still here"})

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "still here", entries[0].Message)
}
