package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/history"
	"github.com/fyrsmithlabs/sentineld/internal/task"
)

func TestCheckStop_AllowsWhenNothingPending(t *testing.T) {
	g := New(task.NewList(), nil, 0)
	d := g.CheckStop()
	assert.True(t, d.Allow)
	assert.Empty(t, d.PendingItems)
	assert.Empty(t, d.PendingAlerts)
}

func TestCheckStop_DeniesOnPendingItems(t *testing.T) {
	tasks := task.NewList(
		task.Item{ID: "a", Name: "A"},
		task.Item{ID: "b", Name: "B"},
		task.Item{ID: "c", Name: "C", Status: task.StatusCompleted},
	)
	g := New(tasks, nil, 0)

	d := g.CheckStop()
	assert.False(t, d.Allow)
	assert.Equal(t, []string{"A", "B"}, d.PendingItems)
	assert.Empty(t, d.PendingAlerts)
	assert.Contains(t, d.Message, "2 task item(s) still open")
}

func TestCheckStop_DeniesOnRecentAlerts(t *testing.T) {
	log := history.NewLog(100, nil, zap.NewNop())
	log.Record(history.Entry{SupervisorName: "Security", Message: "hardcoded secret", Status: "alert"})

	g := New(task.NewList(), log, 0)

	d := g.CheckStop()
	assert.False(t, d.Allow)
	assert.Equal(t, []string{"hardcoded secret"}, d.PendingAlerts)
	assert.Contains(t, d.Message, "1 alert(s)")
}

func TestCheckStop_IgnoresStaleAlerts(t *testing.T) {
	log := history.NewLog(100, nil, zap.NewNop())
	log.Record(history.Entry{
		Message:   "old news",
		Status:    "alert",
		Timestamp: time.Now().Add(-10 * time.Minute),
	})

	g := New(task.NewList(), log, 5*time.Minute)
	assert.True(t, g.CheckStop().Allow)
}

func TestCheckStop_BypassConsumedExactlyOnce(t *testing.T) {
	tasks := task.NewList(task.Item{ID: "a", Name: "A"})
	g := New(tasks, nil, 0)

	g.AllowNextStop()
	assert.True(t, g.CheckStop().Allow, "bypass allows exactly one stop")
	assert.False(t, g.CheckStop().Allow, "next check evaluates normally")
}

func TestCheckStop_BypassSurvivesUntilConsumed(t *testing.T) {
	g := New(task.NewList(task.Item{ID: "a", Name: "A"}), nil, 0)
	g.AllowNextStop()

	// Status peeks without consuming.
	st := g.Status()
	assert.True(t, st.CanStop)
	assert.True(t, g.CheckStop().Allow)
}

func TestCheckStop_TruncatesLists(t *testing.T) {
	items := make([]task.Item, 7)
	for i := range items {
		items[i] = task.Item{ID: string(rune('a' + i)), Name: string(rune('A' + i))}
	}
	log := history.NewLog(100, nil, zap.NewNop())
	for _, msg := range []string{"one", "two", "three", "four"} {
		log.Record(history.Entry{Message: msg, Status: "alert"})
	}

	g := New(task.NewList(items...), log, 0)
	d := g.CheckStop()

	require.False(t, d.Allow)
	assert.Len(t, d.PendingItems, 5)
	assert.Len(t, d.PendingAlerts, 3)
	assert.Contains(t, d.Message, "+2 more")
}

func TestStatus_ReportsProgressAndCounts(t *testing.T) {
	tasks := task.NewList(
		task.Item{ID: "a", Name: "A", Status: task.StatusCompleted},
		task.Item{ID: "b", Name: "B"},
	)
	log := history.NewLog(100, nil, zap.NewNop())
	log.Record(history.Entry{Message: "bad", Status: "alert"})

	g := New(tasks, log, 0)
	st := g.Status()

	assert.True(t, st.Running)
	assert.Equal(t, 50, st.Progress)
	assert.Equal(t, 1, st.PendingItems)
	assert.Equal(t, 1, st.PendingAlerts)
	assert.False(t, st.CanStop)
}

func TestStatus_EmptyListIsComplete(t *testing.T) {
	g := New(task.NewList(), nil, 0)
	st := g.Status()
	assert.Equal(t, 100, st.Progress)
	assert.True(t, st.CanStop)
}
