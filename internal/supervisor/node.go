package supervisor

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Node is one supervisor in the classification tree. The tree exclusively
// owns its children; the parent reference is an id resolved through the
// tree's index, never used for traversal.
type Node struct {
	ID       string
	Name     string
	Kind     Kind
	Keywords []string
	Rules    []Rule
	Enabled  bool

	parentID string
	children []*Node

	callCount  atomic.Int64
	alertCount atomic.Int64

	mu         sync.Mutex
	lastResult *Result
}

// CallCount returns how many times this node has been invoked.
func (n *Node) CallCount() int64 { return n.callCount.Load() }

// AlertCount returns how many alert results this node has produced.
func (n *Node) AlertCount() int64 { return n.alertCount.Load() }

// LastResult returns a copy of the node's most recent result, or nil.
func (n *Node) LastResult() *Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastResult == nil {
		return nil
	}
	r := *n.lastResult
	return &r
}

// Children returns the node's children in order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ParentID returns the id of the node's parent, empty for the root.
func (n *Node) ParentID() string { return n.parentID }

func (n *Node) setLastResult(r Result) {
	n.mu.Lock()
	n.lastResult = &r
	n.mu.Unlock()
}

// matches reports whether any keyword appears in the text. Matching is a
// case-insensitive substring test; an empty keyword set never matches.
func (n *Node) matches(lowerText string) bool {
	for _, kw := range n.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

// enabledRules returns the node's enabled rules in declaration order.
func (n *Node) enabledRules() []Rule {
	var out []Rule
	for _, r := range n.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
