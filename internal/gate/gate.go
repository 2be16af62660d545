// Package gate decides whether the supervised agent may stop.
//
// The decision is a pure function of current task progress and recent alert
// history, plus a one-shot bypass flag that consumes exactly one stop
// request. The HTTP boundary in server.go exposes the gate on loopback.
package gate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/sentineld/internal/history"
	"github.com/fyrsmithlabs/sentineld/internal/task"
)

const (
	// DefaultAlertWindow is how far back alerts count as pending.
	DefaultAlertWindow = 5 * time.Minute

	maxListedItems  = 5
	maxListedAlerts = 3
)

// AlertSource supplies the recent alerts consulted per decision.
// *history.Log satisfies it.
type AlertSource interface {
	RecentAlerts(window time.Duration) []history.Entry
}

// Decision is the outcome of one stop check.
type Decision struct {
	Allow         bool     `json:"allow"`
	Message       string   `json:"message,omitempty"`
	PendingItems  []string `json:"pendingItems,omitempty"`
	PendingAlerts []string `json:"pendingAlerts,omitempty"`
}

// Status is the non-consuming view served on /api/status.
type Status struct {
	Running       bool `json:"running"`
	Progress      int  `json:"progress"`
	PendingItems  int  `json:"pendingItems"`
	PendingAlerts int  `json:"pendingAlerts"`
	CanStop       bool `json:"canStop"`
}

// Gate holds the one-shot bypass flag and the collaborators consulted per
// decision. Safe for concurrent use.
type Gate struct {
	tasks  *task.List
	alerts AlertSource
	window time.Duration

	mu         sync.Mutex
	bypassNext bool
}

// New creates a gate. alerts may be nil when no history is kept; window <= 0
// falls back to DefaultAlertWindow.
func New(tasks *task.List, alerts AlertSource, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultAlertWindow
	}
	return &Gate{
		tasks:  tasks,
		alerts: alerts,
		window: window,
	}
}

// AllowNextStop sets the bypass flag. The flag survives until the very next
// CheckStop consumes it; nothing else clears it.
func (g *Gate) AllowNextStop() {
	g.mu.Lock()
	g.bypassNext = true
	g.mu.Unlock()
}

// CheckStop evaluates one stop request. A set bypass flag is consumed and
// allows exactly this request; otherwise pending items and recent alerts
// each deny with a formatted explanation.
func (g *Gate) CheckStop() Decision {
	g.mu.Lock()
	if g.bypassNext {
		g.bypassNext = false
		g.mu.Unlock()
		return Decision{Allow: true, Message: "stop allowed: bypass consumed"}
	}
	g.mu.Unlock()

	pending, alerts := g.reasons()
	if len(pending) == 0 && len(alerts) == 0 {
		return Decision{Allow: true}
	}

	return Decision{
		Allow:         false,
		Message:       formatDenial(pending, alerts, g.window),
		PendingItems:  truncateList(pending, maxListedItems),
		PendingAlerts: truncateList(alerts, maxListedAlerts),
	}
}

// Status reports the current gate view without consuming the bypass flag.
func (g *Gate) Status() Status {
	g.mu.Lock()
	bypass := g.bypassNext
	g.mu.Unlock()

	pending, alerts := g.reasons()

	progress := 100
	if g.tasks != nil {
		progress = g.tasks.Progress()
	}

	return Status{
		Running:       true,
		Progress:      progress,
		PendingItems:  len(pending),
		PendingAlerts: len(alerts),
		CanStop:       bypass || (len(pending) == 0 && len(alerts) == 0),
	}
}

// reasons gathers the pending item names and recent alert messages that
// would deny a stop.
func (g *Gate) reasons() (pending, alerts []string) {
	if g.tasks != nil && g.tasks.Progress() < 100 {
		for _, it := range g.tasks.Pending() {
			pending = append(pending, it.Name)
		}
	}
	if g.alerts != nil {
		for _, e := range g.alerts.RecentAlerts(g.window) {
			alerts = append(alerts, e.Message)
		}
	}
	return pending, alerts
}

func formatDenial(pending, alerts []string, window time.Duration) string {
	var b strings.Builder
	b.WriteString("Stop request denied:")
	if len(pending) > 0 {
		fmt.Fprintf(&b, "\n- %d task item(s) still open", len(pending))
	}
	if len(alerts) > 0 {
		fmt.Fprintf(&b, "\n- %d alert(s) raised in the last %s", len(alerts), window)
	}
	if len(pending) > 0 {
		b.WriteString("\nPending items: ")
		b.WriteString(strings.Join(truncateList(pending, maxListedItems), ", "))
		if extra := len(pending) - maxListedItems; extra > 0 {
			fmt.Fprintf(&b, " (+%d more)", extra)
		}
	}
	if len(alerts) > 0 {
		b.WriteString("\nRecent alerts: ")
		b.WriteString(strings.Join(truncateList(alerts, maxListedAlerts), "; "))
	}
	b.WriteString("\nFinish the remaining work, or request a bypass to force this stop.")
	return b.String()
}

func truncateList(list []string, max int) []string {
	if len(list) <= max {
		return list
	}
	return list[:max]
}
