// Package task tracks the work items of the currently supervised task.
package task

import (
	"fmt"
	"sync"
)

// Status is a work item's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Item is one named work item.
type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// List holds the items of one task. Transitions are monotonic
// (pending → in_progress → completed) except that SetCurrent reverts any
// other in_progress item back to pending, so at most one item is in
// progress at a time.
type List struct {
	mu    sync.Mutex
	items []Item
}

// NewList creates a list. Items without a status start pending.
func NewList(items ...Item) *List {
	l := &List{}
	l.SetItems(items)
	return l
}

// SetItems replaces the whole item list. Used when a collaborator
// establishes the task scope.
func (l *List) SetItems(items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make([]Item, len(items))
	copy(l.items, items)
	for i := range l.items {
		if l.items[i].Status == "" {
			l.items[i].Status = StatusPending
		}
	}
}

// Clear destroys all items; called when the owning task is cleared.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// Items returns a copy of the items in order.
func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// SetCurrent marks the item in progress, reverting any other in_progress
// item to pending. Completed items cannot become current again.
func (l *List) SetCurrent(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	target := -1
	for i := range l.items {
		if l.items[i].ID == id {
			target = i
			break
		}
	}
	if target == -1 {
		return fmt.Errorf("unknown item %q", id)
	}
	if l.items[target].Status == StatusCompleted {
		return fmt.Errorf("item %q is already completed", id)
	}

	for i := range l.items {
		if i != target && l.items[i].Status == StatusInProgress {
			l.items[i].Status = StatusPending
		}
	}
	l.items[target].Status = StatusInProgress
	return nil
}

// Complete marks the item completed. Returns false for unknown ids;
// completing an already completed item is a no-op reported as false.
func (l *List) Complete(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			if l.items[i].Status == StatusCompleted {
				return false
			}
			l.items[i].Status = StatusCompleted
			return true
		}
	}
	return false
}

// CompleteByName marks the first non-completed item with the given name.
func (l *List) CompleteByName(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].Name == name && l.items[i].Status != StatusCompleted {
			l.items[i].Status = StatusCompleted
			return true
		}
	}
	return false
}

// Pending returns items that are not yet completed, in order.
func (l *List) Pending() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Item
	for _, it := range l.items {
		if it.Status != StatusCompleted {
			out = append(out, it)
		}
	}
	return out
}

// Progress returns the completion percentage, 0-100. An empty list counts
// as fully complete.
func (l *List) Progress() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return 100
	}
	done := 0
	for _, it := range l.items {
		if it.Status == StatusCompleted {
			done++
		}
	}
	return done * 100 / len(l.items)
}

// Len returns the number of items.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
