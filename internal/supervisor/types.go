package supervisor

import (
	"time"
)

// Kind discriminates the node variants of the classification tree.
type Kind string

const (
	// KindRouter delegates to children by keyword; the tree root is a router.
	KindRouter Kind = "router"
	// KindCoordinator delegates like a router and may hold rules of its own.
	KindCoordinator Kind = "coordinator"
	// KindSpecialist is a leaf holding rules evaluated by the judge.
	KindSpecialist Kind = "specialist"
)

// Severity orders rule violations. Critical ranks highest.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns the total order used for picking the winning violation.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Status is a node's per-chunk outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusAlert Status = "alert"
)

// Rule is one natural-language check owned by a node.
type Rule struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	Severity         Severity `json:"severity"`
	Check            string   `json:"check"`
	ExampleViolation string   `json:"example_violation,omitempty"`
	Enabled          bool     `json:"enabled"`
}

// Chunk is the atomic unit of reasoning text submitted for analysis.
type Chunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
}

// Result is one node's verdict for one chunk.
type Result struct {
	SupervisorID   string   `json:"supervisor_id"`
	SupervisorName string   `json:"supervisor_name"`
	Status         Status   `json:"status"`
	Severity       Severity `json:"severity,omitempty"`
	Message        string   `json:"message,omitempty"`
	Evidence       string   `json:"evidence,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	ProcessingMs int64     `json:"processing_time_ms"`
}
