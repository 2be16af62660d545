// Package scheduler serializes chunk analysis through the classification tree.
//
// The scheduler enforces single-flight execution: at most one tree traversal
// runs at a time. Chunks submitted while a traversal is in flight are queued
// FIFO and their callers get an empty placeholder immediately; the backlog is
// drained by a worker loop, never by recursion, so a deep backlog cannot grow
// the stack. Each traversal races a fixed deadline; losing judge calls are
// not cancelled, their late results are simply discarded.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/bus"
	"github.com/fyrsmithlabs/sentineld/internal/supervisor"
)

// ErrAnalysisTimeout is returned when the traversal deadline wins the race.
// Callers must treat "no result for this chunk" as a normal outcome.
var ErrAnalysisTimeout = errors.New("analysis deadline exceeded")

// ContextKeyTaskDescription marks the context entry that triggers the
// always-on behavior analysis.
const ContextKeyTaskDescription = "task_description"

// Event is emitted after every traversal, including failed ones.
type Event struct {
	Chunk    supervisor.Chunk    `json:"chunk"`
	Results  []supervisor.Result `json:"results"`
	Error    string              `json:"error,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Config configures the analyzer.
type Config struct {
	// JudgeTimeout is the nominal single judge call timeout.
	JudgeTimeout time.Duration

	// TimeoutMultiplier scales JudgeTimeout into the traversal deadline.
	// The specialist's rule calls run concurrently, so twice a single
	// call is enough headroom.
	TimeoutMultiplier float64
}

func (c Config) deadline() time.Duration {
	m := c.TimeoutMultiplier
	if m < 1 {
		m = 2
	}
	t := c.JudgeTimeout
	if t <= 0 {
		t = 15 * time.Second
	}
	return time.Duration(float64(t) * m)
}

type job struct {
	chunk       supervisor.Chunk
	contextData map[string]string
}

// Analyzer owns the single-flight queue in front of the tree.
type Analyzer struct {
	deadline time.Duration
	logger   *zap.Logger

	events  *bus.Bus
	metrics *Metrics

	onComplete func(Event)

	mu       sync.Mutex
	tree     *supervisor.Tree
	behavior *supervisor.Tree
	queue    []*job
	inflight bool

	wg sync.WaitGroup
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBehaviorTree sets the always-on behavior specialist, run outside
// keyword routing whenever the submitted context carries a task description.
func WithBehaviorTree(t *supervisor.Tree) Option {
	return func(a *Analyzer) { a.behavior = t }
}

// WithBus publishes analysis_complete events to NATS.
func WithBus(b *bus.Bus) Option {
	return func(a *Analyzer) { a.events = b }
}

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithOnComplete registers an in-process event callback.
func WithOnComplete(fn func(Event)) Option {
	return func(a *Analyzer) { a.onComplete = fn }
}

// New creates an analyzer in front of tree.
func New(tree *supervisor.Tree, cfg Config, logger *zap.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		deadline: cfg.deadline(),
		tree:     tree,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SwapTree replaces the classification tree between traversals. Used by
// live reload; the in-flight traversal keeps the tree it started with.
func (a *Analyzer) SwapTree(tree *supervisor.Tree) {
	a.mu.Lock()
	a.tree = tree
	a.mu.Unlock()
}

// AnalyzeThinking submits a chunk. If no traversal is in flight the call
// processes it and returns the results; otherwise the chunk is queued and
// an empty placeholder is returned immediately without blocking. Queued
// chunks surface their results through the completion event only.
func (a *Analyzer) AnalyzeThinking(chunk supervisor.Chunk, contextData map[string]string) ([]supervisor.Result, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	j := &job{chunk: chunk, contextData: contextData}

	a.mu.Lock()
	if a.inflight {
		a.queue = append(a.queue, j)
		a.wg.Add(1)
		if a.metrics != nil {
			a.metrics.QueueDepth.Set(float64(len(a.queue)))
		}
		a.mu.Unlock()
		return nil, nil
	}
	a.inflight = true
	a.mu.Unlock()

	a.wg.Add(1)
	results, err := a.runOne(j)

	// Release and dequeue unconditionally, whether the traversal
	// succeeded, failed, or timed out.
	a.release()
	return results, err
}

// Wait blocks until every submitted chunk has been processed. Test helper.
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

// QueueLen returns the current backlog size.
func (a *Analyzer) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// release hands the flight slot to the next queued chunk, if any. The
// backlog is processed on a fresh goroutine running a loop.
func (a *Analyzer) release() {
	a.mu.Lock()
	if len(a.queue) == 0 {
		a.inflight = false
		a.mu.Unlock()
		return
	}
	next := a.queue[0]
	a.queue = a.queue[1:]
	if a.metrics != nil {
		a.metrics.QueueDepth.Set(float64(len(a.queue)))
	}
	a.mu.Unlock()

	go a.drain(next)
}

// drain processes the backlog one chunk at a time. A loop, not recursion:
// the stack stays flat no matter how deep the backlog got.
func (a *Analyzer) drain(j *job) {
	for {
		a.runOne(j) //nolint:errcheck // queued results surface via events

		a.mu.Lock()
		if len(a.queue) == 0 {
			a.inflight = false
			a.mu.Unlock()
			return
		}
		j = a.queue[0]
		a.queue = a.queue[1:]
		if a.metrics != nil {
			a.metrics.QueueDepth.Set(float64(len(a.queue)))
		}
		a.mu.Unlock()
	}
}

// runOne executes a single traversal raced against the deadline.
func (a *Analyzer) runOne(j *job) ([]supervisor.Result, error) {
	defer a.wg.Done()
	start := time.Now()

	a.mu.Lock()
	tree := a.tree
	behavior := a.behavior
	a.mu.Unlock()

	type outcome struct {
		results []supervisor.Result
		err     error
	}
	ch := make(chan outcome, 1)

	// The traversal gets a background context on purpose: the deadline is
	// a race, not a cancellation. Judge calls still pending when the
	// deadline fires run to completion and their results are discarded.
	go func() {
		results, err := tree.Analyze(context.Background(), j.chunk, j.contextData)
		if err == nil && behavior != nil && j.contextData[ContextKeyTaskDescription] != "" {
			bres, berr := behavior.Analyze(context.Background(), j.chunk, j.contextData)
			if berr != nil {
				a.logger.Warn("behavior analysis failed", zap.Error(berr))
			} else {
				results = append(results, bres...)
			}
		}
		ch <- outcome{results: results, err: err}
	}()

	var (
		results []supervisor.Result
		err     error
	)
	select {
	case o := <-ch:
		results, err = o.results, o.err
	case <-time.After(a.deadline):
		err = ErrAnalysisTimeout
		a.logger.Warn("analysis timed out, discarding in-flight results",
			zap.String("chunk_id", j.chunk.ID),
			zap.Duration("deadline", a.deadline))
		if a.metrics != nil {
			a.metrics.Timeouts.Inc()
		}
	}

	if a.metrics != nil {
		a.metrics.Processed.Inc()
	}

	ev := Event{
		Chunk:    j.chunk,
		Results:  results,
		Duration: time.Since(start),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if a.onComplete != nil {
		a.onComplete(ev)
	}
	a.events.Publish(bus.SubjectAnalysisComplete, ev)

	return results, err
}
