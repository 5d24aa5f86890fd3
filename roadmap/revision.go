package roadmap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Change tags a task in a revision answer.
type Change string

// Change values.
const (
	ChangeUnchanged Change = "unchanged"
	ChangeModified  Change = "modified"
	ChangeRemoved   Change = "removed"
	ChangeAdded     Change = "added"
)

// IsValid reports whether c is a known change tag.
func (c Change) IsValid() bool {
	switch c {
	case ChangeUnchanged, ChangeModified, ChangeRemoved, ChangeAdded:
		return true
	}
	return false
}

// RevisedTask is a task as returned by a revision, tagged with its change.
// The change travels as "status"; the task progress as "taskStatus".
type RevisedTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ObjectiveID string   `json:"objectiveId"`
	TaskStatus  Status   `json:"taskStatus,omitempty"`
	Estimate    Estimate `json:"estimate"`
	Priority    Priority `json:"priority"`
	DependsOn   []string `json:"dependsOn"`
	Change      Change   `json:"status"`
}

// NodeID implements Node.
func (t RevisedTask) NodeID() string { return t.ID }

// Deps implements Node.
func (t RevisedTask) Deps() []string { return t.DependsOn }

// ChangesSummary counts the changes of a revision.
type ChangesSummary struct {
	ItemsModified   int     `json:"itemsModified"`
	ItemsAdded      int     `json:"itemsAdded"`
	ItemsRemoved    int     `json:"itemsRemoved"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// Revision is a validated revision answer.
type Revision struct {
	RevisedRoadmap []RevisedTask   `json:"revisedRoadmap"`
	ChangesSummary *ChangesSummary `json:"changesSummary"`
}

// HasDependencies reports whether any surviving task carries dependsOn edges.
func (r *Revision) HasDependencies() bool {
	for _, t := range r.RevisedRoadmap {
		if t.Change != ChangeRemoved && len(t.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// DecodeRevision parses a revision answer and checks its own schema.
func DecodeRevision(raw []byte) (*Revision, error) {
	var rev Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return nil, &SchemaValidationError{Issues: []Issue{{Message: fmt.Sprintf("invalid JSON document: %v", err)}}}
	}

	var is issues
	if rev.RevisedRoadmap == nil {
		is.add("revisedRoadmap", "required")
	}
	if rev.ChangesSummary == nil {
		is.add("changesSummary", "required")
	} else {
		cs := rev.ChangesSummary
		if cs.ItemsModified < 0 || cs.ItemsAdded < 0 || cs.ItemsRemoved < 0 {
			is.add("changesSummary", "counts must not be negative")
		}
		if cs.ConfidenceScore < 0 || cs.ConfidenceScore > 1 {
			is.add("changesSummary.confidenceScore", "must be between 0 and 1, got %v", cs.ConfidenceScore)
		}
	}

	seen := make(map[string]bool, len(rev.RevisedRoadmap))
	for i, t := range rev.RevisedRoadmap {
		path := fmt.Sprintf("revisedRoadmap[%d]", i)
		switch {
		case t.ID == "":
			is.add(path+".id", "required")
		case seen[t.ID]:
			is.add(path+".id", "duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		if !t.Change.IsValid() {
			is.add(path+".status", "must be unchanged, modified, removed or added, got %q", t.Change)
			continue
		}
		if t.Change == ChangeRemoved {
			continue
		}
		validateTaskFields(&is, path, Task{
			ID:          t.ID,
			Title:       t.Title,
			ObjectiveID: t.ObjectiveID,
			Status:      t.TaskStatus,
			Estimate:    t.Estimate,
			Priority:    t.Priority,
		})
	}

	if err := is.err(); err != nil {
		return nil, err
	}
	for i := range rev.RevisedRoadmap {
		if rev.RevisedRoadmap[i].DependsOn == nil {
			rev.RevisedRoadmap[i].DependsOn = []string{}
		}
	}
	return &rev, nil
}

// RevisionValidator returns a validator that decodes a revision and checks
// it against current: modified, removed and unchanged tasks must exist,
// added tasks must be new, and references must resolve once applied.
func RevisionValidator(current *Roadmap) func(raw []byte) (*Revision, error) {
	return func(raw []byte) (*Revision, error) {
		rev, err := DecodeRevision(raw)
		if err != nil {
			return nil, err
		}
		if err := CheckRevision(current, rev); err != nil {
			return nil, err
		}
		return rev, nil
	}
}

// CheckRevision validates rev against the roadmap it revises.
func CheckRevision(current *Roadmap, rev *Revision) error {
	var is issues

	existing := make(map[string]bool, len(current.Tasks))
	for _, t := range current.Tasks {
		existing[t.ID] = true
	}
	objectives := make(map[string]bool, len(current.Objectives))
	for _, o := range current.Objectives {
		objectives[o.ID] = true
	}

	surviving := make(map[string]bool, len(existing))
	for id := range existing {
		surviving[id] = true
	}
	for i, t := range rev.RevisedRoadmap {
		path := fmt.Sprintf("revisedRoadmap[%d]", i)
		switch t.Change {
		case ChangeAdded:
			if existing[t.ID] {
				is.add(path+".id", "added task %q already exists", t.ID)
			}
			surviving[t.ID] = true
		case ChangeRemoved:
			if !existing[t.ID] {
				is.add(path+".id", "removed task %q does not exist", t.ID)
			}
			delete(surviving, t.ID)
		default:
			if !existing[t.ID] {
				is.add(path+".id", "%s task %q does not exist", t.Change, t.ID)
			}
		}
	}

	for i, t := range rev.RevisedRoadmap {
		if t.Change == ChangeRemoved {
			continue
		}
		path := fmt.Sprintf("revisedRoadmap[%d]", i)
		if !objectives[t.ObjectiveID] {
			is.add(path+".objectiveId", "unknown objective %q", t.ObjectiveID)
		}
		for j, dep := range t.DependsOn {
			if !surviving[dep] {
				is.add(fmt.Sprintf("%s.dependsOn[%d]", path, j), "unknown or removed task %q", dep)
			}
		}
	}

	return is.err()
}

// Apply returns a copy of current with rev applied:
// removed tasks are dropped together with edges and slots pointing at them,
// modified tasks are replaced, added tasks are appended, and a revision entry
// is recorded. Tasks are reordered so dependencies come first.
func Apply(current *Roadmap, rev *Revision, instruction string, now time.Time) (*Roadmap, error) {
	out := current.Clone()

	changes := make(map[string]RevisedTask, len(rev.RevisedRoadmap))
	removed := make(map[string]bool)
	for _, t := range rev.RevisedRoadmap {
		changes[t.ID] = t
		if t.Change == ChangeRemoved {
			removed[t.ID] = true
		}
	}

	tasks := make([]Task, 0, len(out.Tasks)+len(rev.RevisedRoadmap))
	for _, t := range out.Tasks {
		if removed[t.ID] {
			continue
		}
		if c, ok := changes[t.ID]; ok && c.Change == ChangeModified {
			t = c.toTask(t.Status)
		}
		tasks = append(tasks, t)
	}
	for _, c := range rev.RevisedRoadmap {
		if c.Change == ChangeAdded {
			tasks = append(tasks, c.toTask(StatusBacklog))
		}
	}

	for i := range tasks {
		deps := make([]string, 0, len(tasks[i].DependsOn))
		for _, d := range tasks[i].DependsOn {
			if !removed[d] {
				deps = append(deps, d)
			}
		}
		tasks[i].DependsOn = deps
	}

	ordered, err := TopologicalOrder(tasks)
	if err != nil {
		return nil, err
	}
	out.Tasks = ordered

	if out.Planning != nil {
		slots := make([]PlanningSlot, 0, len(out.Planning.Slots))
		for _, s := range out.Planning.Slots {
			if !removed[s.TaskID] {
				slots = append(slots, s)
			}
		}
		out.Planning.Slots = slots
	}

	out.RevisionHistory = append(out.RevisionHistory, RevisionEntry{
		Timestamp: now.UTC(),
		Patch:     describePatch(instruction, rev),
	})
	return out, nil
}

func (t RevisedTask) toTask(fallback Status) Task {
	status := t.TaskStatus
	if status == "" {
		status = fallback
	}
	return Task{
		ID:          t.ID,
		Title:       t.Title,
		ObjectiveID: t.ObjectiveID,
		Status:      status,
		Estimate:    t.Estimate,
		Priority:    t.Priority,
		DependsOn:   append([]string{}, t.DependsOn...),
	}
}

// describePatch renders the revision entry text, for example
// `Split auth (modified: task-1; added: task-4)`.
func describePatch(instruction string, rev *Revision) string {
	byChange := map[Change][]string{}
	for _, t := range rev.RevisedRoadmap {
		if t.Change != ChangeUnchanged {
			byChange[t.Change] = append(byChange[t.Change], t.ID)
		}
	}

	var parts []string
	for _, c := range []Change{ChangeModified, ChangeAdded, ChangeRemoved} {
		ids := byChange[c]
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		parts = append(parts, fmt.Sprintf("%s: %s", c, strings.Join(ids, ", ")))
	}

	instruction = strings.TrimSpace(instruction)
	if len(parts) == 0 {
		return instruction + " (no changes)"
	}
	return fmt.Sprintf("%s (%s)", instruction, strings.Join(parts, "; "))
}
