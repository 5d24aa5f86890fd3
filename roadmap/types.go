// Package roadmap defines the roadmap data model and everything that checks it:
// schema validation, referential integrity, schedule order and the
// dependency cycle detector.
package roadmap

import (
	"slices"
	"time"
)

// Priority ranks objectives and tasks.
type Priority string

// Priority values.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status is the progress of a task.
type Status string

// Status values.
const (
	StatusBacklog Status = "backlog"
	StatusDoing   Status = "doing"
	StatusDone    Status = "done"
)

// IsValid reports whether s is a known task status.
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusDoing, StatusDone:
		return true
	}
	return false
}

// Estimate is a coarse size: S (< 1h), M (1-4h), L (> 4h).
type Estimate string

// Estimate values.
const (
	EstimateS Estimate = "S"
	EstimateM Estimate = "M"
	EstimateL Estimate = "L"
)

// IsValid reports whether e is a known estimate.
func (e Estimate) IsValid() bool {
	switch e {
	case EstimateS, EstimateM, EstimateL:
		return true
	}
	return false
}

// Slot is half of a planning day.
type Slot string

// Slot values.
const (
	SlotAM Slot = "AM"
	SlotPM Slot = "PM"
)

// IsValid reports whether s is AM or PM.
func (s Slot) IsValid() bool {
	return s == SlotAM || s == SlotPM
}

// DateLayout is the calendar date format used by planning.
const DateLayout = "2006-01-02"

// Objective is a goal the tasks serve.
type Objective struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`
}

// Task is an atomic unit of work.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ObjectiveID string   `json:"objectiveId"`
	Status      Status   `json:"status"`
	Estimate    Estimate `json:"estimate"`
	Priority    Priority `json:"priority"`
	DependsOn   []string `json:"dependsOn"`
}

// NodeID implements Node.
func (t Task) NodeID() string { return t.ID }

// Deps implements Node.
func (t Task) Deps() []string { return t.DependsOn }

// PlanningSlot schedules a task on half a day.
type PlanningSlot struct {
	TaskID string `json:"taskId"`
	Day    string `json:"day"`
	Slot   Slot   `json:"slot"`
	Done   bool   `json:"done"`
}

// Planning is an optional day/slot schedule.
type Planning struct {
	StartDate string         `json:"startDate"`
	EndDate   string         `json:"endDate"`
	Slots     []PlanningSlot `json:"slots"`
}

// RevisionEntry records one applied revision.
type RevisionEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Patch     string    `json:"patch"`
}

// Roadmap is the structured result of a brain dump.
type Roadmap struct {
	ProjectID       string          `json:"projectId"`
	Title           string          `json:"title"`
	CreatedAt       time.Time       `json:"createdAt"`
	BrainDump       string          `json:"brainDump"`
	Objectives      []Objective     `json:"objectives"`
	Tasks           []Task          `json:"tasks"`
	Planning        *Planning       `json:"planning,omitempty"`
	RevisionHistory []RevisionEntry `json:"revisionHistory"`
}

// Task returns the task with id, or nil.
func (r *Roadmap) Task(id string) *Task {
	for i := range r.Tasks {
		if r.Tasks[i].ID == id {
			return &r.Tasks[i]
		}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Roadmap) Clone() *Roadmap {
	cp := *r
	cp.Objectives = slices.Clone(r.Objectives)
	cp.Tasks = make([]Task, len(r.Tasks))
	for i, t := range r.Tasks {
		t.DependsOn = slices.Clone(t.DependsOn)
		cp.Tasks[i] = t
	}
	if r.Planning != nil {
		p := *r.Planning
		p.Slots = slices.Clone(r.Planning.Slots)
		cp.Planning = &p
	}
	cp.RevisionHistory = slices.Clone(r.RevisionHistory)
	return &cp
}

// Normalize fills empty collections and resets generation-only fields:
// new tasks start in the backlog and new slots are not done.
func (r *Roadmap) Normalize() {
	if r.Objectives == nil {
		r.Objectives = []Objective{}
	}
	if r.Tasks == nil {
		r.Tasks = []Task{}
	}
	for i := range r.Tasks {
		r.Tasks[i].Status = StatusBacklog
		if r.Tasks[i].DependsOn == nil {
			r.Tasks[i].DependsOn = []string{}
		}
	}
	if r.Planning != nil {
		for i := range r.Planning.Slots {
			r.Planning.Slots[i].Done = false
		}
	}
	if r.RevisionHistory == nil {
		r.RevisionHistory = []RevisionEntry{}
	}
}
