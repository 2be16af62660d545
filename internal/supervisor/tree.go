package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/history"
	"github.com/fyrsmithlabs/sentineld/internal/judge"
)

const (
	// maxEvidenceLen bounds the evidence snippet on alert results.
	maxEvidenceLen = 100

	// maxChunkPreviewLen bounds the chunk preview stored with alerts.
	maxChunkPreviewLen = 200
)

// AlertSink receives the alert entries produced during analysis.
// *history.Log satisfies it.
type AlertSink interface {
	Record(e history.Entry)
}

// Tree is the classification tree. The structure is built once from config
// and mutated only through Add/Remove/SetEnabled, never during analysis.
type Tree struct {
	mu    sync.RWMutex
	root  *Node
	index map[string]*Node

	judge   judge.RuleJudge
	sink    AlertSink
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Tree.
type Option func(*Tree)

// WithMetrics attaches prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(t *Tree) { t.metrics = m }
}

// Build constructs a tree from validated supervisor configs. Exactly one
// entry must have an empty parent_id; it becomes the root. sink may be nil.
func Build(entries []config.SupervisorConfig, j judge.RuleJudge, sink AlertSink, logger *zap.Logger, opts ...Option) (*Tree, error) {
	if j == nil {
		return nil, fmt.Errorf("rule judge is required")
	}

	t := &Tree{
		index:  make(map[string]*Node, len(entries)),
		judge:  j,
		sink:   sink,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, entry := range entries {
		if _, exists := t.index[entry.ID]; exists {
			return nil, fmt.Errorf("duplicate supervisor id %q", entry.ID)
		}
		t.index[entry.ID] = newNode(entry)
	}

	for _, entry := range entries {
		node := t.index[entry.ID]
		if entry.ParentID == "" {
			if t.root != nil {
				return nil, fmt.Errorf("multiple roots: %q and %q", t.root.ID, entry.ID)
			}
			t.root = node
			continue
		}
		parent, ok := t.index[entry.ParentID]
		if !ok {
			return nil, fmt.Errorf("supervisor %q references unknown parent %q", entry.ID, entry.ParentID)
		}
		parent.children = append(parent.children, node)
	}

	if t.root == nil {
		return nil, fmt.Errorf("no root supervisor (exactly one entry must omit parent_id)")
	}

	return t, nil
}

func newNode(entry config.SupervisorConfig) *Node {
	rules := make([]Rule, 0, len(entry.Rules))
	for _, rc := range entry.Rules {
		rules = append(rules, Rule{
			ID:               rc.ID,
			Description:      rc.Description,
			Severity:         parseSeverity(rc.Severity),
			Check:            rc.Check,
			ExampleViolation: rc.ExampleViolation,
			Enabled:          rc.RuleEnabled(),
		})
	}
	return &Node{
		ID:       entry.ID,
		Name:     entry.Name,
		Kind:     Kind(entry.Type),
		Keywords: entry.Keywords,
		Rules:    rules,
		Enabled:  entry.NodeEnabled(),
		parentID: entry.ParentID,
	}
}

func parseSeverity(s string) Severity {
	switch Severity(strings.ToLower(s)) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(strings.ToLower(s))
	default:
		return SeverityMedium
	}
}

// Root returns the tree's entry point.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Node looks a node up by id.
func (t *Tree) Node(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	return n, ok
}

// Parent resolves a node's parent through the index. The root has none.
func (t *Tree) Parent(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	if !ok || n.parentID == "" {
		return nil, false
	}
	p, ok := t.index[n.parentID]
	return p, ok
}

// AddNode attaches a new node under an existing parent.
func (t *Tree) AddNode(entry config.SupervisorConfig) error {
	if entry.ID == "" || entry.Name == "" {
		return fmt.Errorf("supervisor id and name are required")
	}
	if entry.ParentID == "" {
		return fmt.Errorf("cannot add a second root")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.index[entry.ID]; exists {
		return fmt.Errorf("duplicate supervisor id %q", entry.ID)
	}
	parent, ok := t.index[entry.ParentID]
	if !ok {
		return fmt.Errorf("unknown parent %q", entry.ParentID)
	}

	node := newNode(entry)
	t.index[entry.ID] = node
	parent.children = append(parent.children, node)
	return nil
}

// RemoveNode detaches a node and its subtree. The root cannot be removed.
func (t *Tree) RemoveNode(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.index[id]
	if !ok {
		return fmt.Errorf("unknown supervisor %q", id)
	}
	if node == t.root {
		return fmt.Errorf("cannot remove the root supervisor")
	}

	parent := t.index[node.parentID]
	for i, child := range parent.children {
		if child == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}

	var drop func(n *Node)
	drop = func(n *Node) {
		delete(t.index, n.ID)
		for _, c := range n.children {
			drop(c)
		}
	}
	drop(node)
	return nil
}

// SetEnabled toggles a node.
func (t *Tree) SetEnabled(id string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.index[id]
	if !ok {
		return fmt.Errorf("unknown supervisor %q", id)
	}
	node.Enabled = enabled
	return nil
}

// Analyze runs the chunk through the tree from the root and returns the
// flattened results of every consulted node.
func (t *Tree) Analyze(ctx context.Context, chunk Chunk, contextData map[string]string) ([]Result, error) {
	if strings.TrimSpace(chunk.Content) == "" {
		return nil, fmt.Errorf("empty chunk content")
	}

	var contextJSON string
	if len(contextData) > 0 {
		data, err := json.Marshal(contextData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context: %w", err)
		}
		contextJSON = string(data)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.analyzeNode(ctx, t.root, chunk, contextJSON), nil
}

func (t *Tree) analyzeNode(ctx context.Context, n *Node, chunk Chunk, contextJSON string) []Result {
	start := time.Now()
	n.callCount.Add(1)
	if t.metrics != nil {
		t.metrics.Calls.WithLabelValues(n.Name).Inc()
	}

	if !n.Enabled {
		ok := okResult(n, start)
		n.setLastResult(ok)
		return []Result{ok}
	}

	switch n.Kind {
	case KindSpecialist:
		r := t.evaluateRules(ctx, n, chunk, contextJSON, start)
		return []Result{r}

	default: // router, coordinator
		lower := strings.ToLower(chunk.Content)
		var results []Result
		for _, child := range n.children {
			if child.matches(lower) {
				results = append(results, t.analyzeNode(ctx, child, chunk, contextJSON)...)
			}
		}
		if len(n.enabledRules()) > 0 {
			results = append(results, t.evaluateRules(ctx, n, chunk, contextJSON, start))
		}
		if len(results) == 0 {
			ok := okResult(n, start)
			n.setLastResult(ok)
			return []Result{ok}
		}
		return results
	}
}

// evaluateRules runs every enabled rule through the judge concurrently and
// joins on all of them before ranking. A failing judge call makes that rule
// inconclusive; sibling verdicts are kept.
func (t *Tree) evaluateRules(ctx context.Context, n *Node, chunk Chunk, contextJSON string, start time.Time) Result {
	rules := n.enabledRules()
	if len(rules) == 0 {
		ok := okResult(n, start)
		n.setLastResult(ok)
		return ok
	}

	type outcome struct {
		verdict judge.Verdict
		err     error
	}
	outcomes := make([]outcome, len(rules))

	var wg sync.WaitGroup
	for i, rule := range rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			v, err := t.judge.CheckRule(ctx, chunk.Content, rule.Check, contextJSON)
			outcomes[i] = outcome{verdict: v, err: err}
		}(i, rule)
	}
	wg.Wait()

	// Most severe violation wins; ties keep the first-encountered rule.
	winner := -1
	for i, o := range outcomes {
		if o.err != nil {
			t.logger.Warn("rule check inconclusive",
				zap.String("supervisor", n.Name),
				zap.String("rule", rules[i].ID),
				zap.Error(o.err))
			continue
		}
		if !o.verdict.Violated {
			continue
		}
		if winner == -1 || rules[i].Severity.Rank() > rules[winner].Severity.Rank() {
			winner = i
		}
	}

	if winner == -1 {
		ok := okResult(n, start)
		n.setLastResult(ok)
		return ok
	}

	rule := rules[winner]
	result := Result{
		SupervisorID:   n.ID,
		SupervisorName: n.Name,
		Status:         StatusAlert,
		Severity:       rule.Severity,
		Message:        fmt.Sprintf("%s: %s", rule.Description, outcomes[winner].verdict.Explanation),
		Evidence:       snippet(chunk.Content, maxEvidenceLen),
		Timestamp:      time.Now(),
		ProcessingMs:   time.Since(start).Milliseconds(),
	}

	n.alertCount.Add(1)
	n.setLastResult(result)
	if t.metrics != nil {
		t.metrics.Alerts.WithLabelValues(n.Name).Inc()
	}
	if t.sink != nil {
		t.sink.Record(history.Entry{
			SupervisorName: n.Name,
			Message:        result.Message,
			Status:         string(StatusAlert),
			ChunkPreview:   preview(chunk.Content, maxChunkPreviewLen),
		})
	}

	return result
}

func okResult(n *Node, start time.Time) Result {
	return Result{
		SupervisorID:   n.ID,
		SupervisorName: n.Name,
		Status:         StatusOK,
		Timestamp:      time.Now(),
		ProcessingMs:   time.Since(start).Milliseconds(),
	}
}

// snippet extracts up to max characters of evidence, preferring to break at
// the nearest sentence boundary past the midpoint, else the nearest comma,
// else a hard cut with an ellipsis.
func snippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}

	window := runes[:max]
	mid := max / 2
	for i := mid; i < max; i++ {
		if window[i] == '.' {
			return string(window[:i+1])
		}
	}
	for i := mid; i < max; i++ {
		if window[i] == ',' {
			return string(window[:i+1])
		}
	}
	return string(runes[:max-3]) + "..."
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
