package types

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a lifecycle method is called from a
// status that does not allow it.
var ErrInvalidTransition = errors.New("invalid status transition")

// Task is one checklist line of a change.
type Task struct {
	Text string `json:"text" yaml:"text"`
	Done bool   `json:"done" yaml:"done"`
}

// Change is an ordered batch of deltas plus status and dependency metadata.
// Entity methods modify the struct in memory; callers persist it.
type Change struct {
	ID             string    `json:"change_id" yaml:"id"`
	Feature        string    `json:"feature" yaml:"feature"`
	Number         int       `json:"number" yaml:"number"`
	Status         Status    `json:"status" yaml:"status"`
	DependsOn      []string  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Implements     []string  `json:"implements,omitempty" yaml:"implements,omitempty"`
	BatchAccepted  bool      `json:"batch_accepted" yaml:"batch_accepted"`
	AppliedVersion uint64    `json:"applied_version,omitempty" yaml:"applied_version,omitempty"`
	Deltas         []Delta   `json:"-" yaml:"-"`
	Tasks          []Task    `json:"-" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Begin moves the change to IN_PROGRESS when its first delta batch starts.
// Calling Begin on an IN_PROGRESS change is a no-op so that a rejected batch
// can be retried. A COMPLETED change cannot begin again.
func (c *Change) Begin() error {
	switch c.Status {
	case StatusNotStarted, "":
		c.Status = StatusInProgress
		c.UpdatedAt = time.Now()
		return nil
	case StatusInProgress:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Accept records that the engine accepted the change's full delta batch,
// producing spec version v.
func (c *Change) Accept(v uint64) error {
	if c.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	c.BatchAccepted = true
	c.AppliedVersion = v
	c.UpdatedAt = time.Now()
	return nil
}

// Complete marks the change COMPLETED. The change must be IN_PROGRESS with an
// accepted batch; graph-level preconditions are checked by the caller before
// calling Complete.
func (c *Change) Complete() error {
	if c.Status != StatusInProgress || !c.BatchAccepted {
		return ErrInvalidTransition
	}
	c.Status = StatusCompleted
	c.UpdatedAt = time.Now()
	return nil
}

// TasksDone reports whether every task is checked. A change with no tasks
// counts as done.
func (c *Change) TasksDone() bool {
	for _, t := range c.Tasks {
		if !t.Done {
			return false
		}
	}
	return true
}
