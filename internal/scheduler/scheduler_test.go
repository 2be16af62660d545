package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/judge"
	"github.com/fyrsmithlabs/sentineld/internal/supervisor"
)

func buildSpecialistTree(t *testing.T, j judge.RuleJudge, check string) *supervisor.Tree {
	t.Helper()
	tree, err := supervisor.Build([]config.SupervisorConfig{
		{
			ID:   "root",
			Name: "Root",
			Type: config.TypeSpecialist,
			Rules: []config.RuleConfig{
				{ID: "r1", Description: "rule", Severity: "high", Check: check},
			},
		},
	}, j, nil, zap.NewNop())
	require.NoError(t, err)
	return tree
}

// gateJudge blocks every call until released and tracks the peak number of
// concurrent calls, exposing overlapping traversals.
type gateJudge struct {
	delay   time.Duration
	current atomic.Int64
	peak    atomic.Int64
}

func (g *gateJudge) CheckRule(ctx context.Context, text, check, contextJSON string) (judge.Verdict, error) {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.current.Add(-1)
	return judge.Verdict{}, nil
}

func TestAnalyzeThinking_SynchronousWhenIdle(t *testing.T) {
	j := judge.NewScriptedJudge().
		Script("check", judge.Verdict{Violated: true, Explanation: "bad"})
	a := New(buildSpecialistTree(t, j, "check"), Config{}, zap.NewNop())

	results, err := a.AnalyzeThinking(supervisor.Chunk{Content: "some reasoning"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, supervisor.StatusAlert, results[0].Status)
}

func TestAnalyzeThinking_FillsChunkIdentity(t *testing.T) {
	j := judge.NewScriptedJudge()
	var got supervisor.Chunk
	a := New(buildSpecialistTree(t, j, "check"), Config{}, zap.NewNop(),
		WithOnComplete(func(ev Event) { got = ev.Chunk }))

	_, err := a.AnalyzeThinking(supervisor.Chunk{Content: "text"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestAnalyzeThinking_SingleFlightInOrder(t *testing.T) {
	gj := &gateJudge{delay: 20 * time.Millisecond}
	tree := buildSpecialistTree(t, gj, "check")

	var mu sync.Mutex
	var order []string
	a := New(tree, Config{}, zap.NewNop(), WithOnComplete(func(ev Event) {
		mu.Lock()
		order = append(order, ev.Chunk.ID)
		mu.Unlock()
	}))

	const n = 5
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.AnalyzeThinking(supervisor.Chunk{ID: "chunk-0", Content: "first"}, nil) //nolint:errcheck
	}()
	time.Sleep(5 * time.Millisecond)

	for i := 1; i < n; i++ {
		results, err := a.AnalyzeThinking(supervisor.Chunk{
			ID:      fmt.Sprintf("chunk-%d", i),
			Content: "queued",
		}, nil)
		require.NoError(t, err)
		assert.Nil(t, results, "queued submissions return a placeholder")
	}

	<-done
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n, "every submitted chunk is eventually processed")
	for i, id := range order {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), id)
	}
	assert.Equal(t, int64(1), gj.peak.Load(), "never more than one traversal in flight")
	assert.Zero(t, a.QueueLen())
}

func TestAnalyzeThinking_TimeoutReleasesSlot(t *testing.T) {
	j := judge.NewScriptedJudge()
	j.Delay = 200 * time.Millisecond
	tree := buildSpecialistTree(t, j, "check")

	a := New(tree, Config{JudgeTimeout: 10 * time.Millisecond, TimeoutMultiplier: 2}, zap.NewNop())

	results, err := a.AnalyzeThinking(supervisor.Chunk{Content: "slow"}, nil)
	assert.ErrorIs(t, err, ErrAnalysisTimeout)
	assert.Nil(t, results)

	// The slot was released despite the timeout; a fast chunk goes through.
	fast := judge.NewScriptedJudge().Script("check", judge.Verdict{Violated: false})
	a.SwapTree(buildSpecialistTree(t, fast, "check"))

	results, err = a.AnalyzeThinking(supervisor.Chunk{Content: "fast"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, supervisor.StatusOK, results[0].Status)
}

func TestAnalyzeThinking_EmptyContentFails(t *testing.T) {
	j := judge.NewScriptedJudge()
	a := New(buildSpecialistTree(t, j, "check"), Config{}, zap.NewNop())

	_, err := a.AnalyzeThinking(supervisor.Chunk{Content: "   "}, nil)
	require.Error(t, err)

	// The failure still releases the slot.
	results, err := a.AnalyzeThinking(supervisor.Chunk{Content: "ok"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestAnalyzeThinking_BehaviorTreeRunsWithTaskDescription(t *testing.T) {
	j := judge.NewScriptedJudge().Script("main check", judge.Verdict{Violated: false})
	bj := judge.NewScriptedJudge().
		Script("drift check", judge.Verdict{Violated: true, Explanation: "off track"})

	behavior, err := supervisor.Build([]config.SupervisorConfig{
		{
			ID:   "behavior",
			Name: "Behavior",
			Type: config.TypeSpecialist,
			Rules: []config.RuleConfig{
				{ID: "b1", Description: "stay on task", Severity: "medium", Check: "drift check"},
			},
		},
	}, bj, nil, zap.NewNop())
	require.NoError(t, err)

	a := New(buildSpecialistTree(t, j, "main check"), Config{}, zap.NewNop(),
		WithBehaviorTree(behavior))

	// Without a task description the behavior tree stays idle.
	results, err := a.AnalyzeThinking(supervisor.Chunk{Content: "text"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, bj.Calls())

	results, err = a.AnalyzeThinking(supervisor.Chunk{Content: "text"},
		map[string]string{ContextKeyTaskDescription: "build the login page"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Behavior", results[1].SupervisorName)
	assert.Equal(t, supervisor.StatusAlert, results[1].Status)
}

func TestAnalyzeThinking_EventCarriesErrorOnTimeout(t *testing.T) {
	j := judge.NewScriptedJudge()
	j.Delay = 200 * time.Millisecond

	var ev Event
	a := New(buildSpecialistTree(t, j, "check"),
		Config{JudgeTimeout: 10 * time.Millisecond, TimeoutMultiplier: 2},
		zap.NewNop(),
		WithOnComplete(func(e Event) { ev = e }))

	_, err := a.AnalyzeThinking(supervisor.Chunk{ID: "slow", Content: "slow"}, nil)
	assert.ErrorIs(t, err, ErrAnalysisTimeout)
	assert.Equal(t, "slow", ev.Chunk.ID)
	assert.Equal(t, ErrAnalysisTimeout.Error(), ev.Error)
}

func TestConfig_Deadline(t *testing.T) {
	assert.Equal(t, 30*time.Second, Config{}.deadline())
	assert.Equal(t, 20*time.Second, Config{JudgeTimeout: 10 * time.Second, TimeoutMultiplier: 2}.deadline())
	assert.Equal(t, 15*time.Second, Config{JudgeTimeout: 5 * time.Second, TimeoutMultiplier: 3}.deadline())
}
