package roadmap

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// roadmapWire is the decoding shape of a generated roadmap. createdAt is
// assigned by the server, so whatever the model wrote there is ignored.
type roadmapWire struct {
	Roadmap
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`
}

// DecodeRoadmap parses and validates a generated roadmap document.
// Every problem is reported in one *SchemaValidationError.
func DecodeRoadmap(raw []byte) (*Roadmap, error) {
	var wire roadmapWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &SchemaValidationError{Issues: []Issue{{Message: fmt.Sprintf("invalid JSON document: %v", err)}}}
	}

	rm := wire.Roadmap
	if err := Validate(&rm); err != nil {
		return nil, err
	}
	return &rm, nil
}

// Validate checks the schema, id uniqueness, references and, when planning
// is present, the schedule order. Cycles are not checked here.
func Validate(rm *Roadmap) error {
	var is issues

	if strings.TrimSpace(rm.Title) == "" {
		is.add("title", "required")
	}
	if len(rm.Objectives) == 0 {
		is.add("objectives", "at least one objective is required")
	}
	if len(rm.Tasks) == 0 {
		is.add("tasks", "at least one task is required")
	}

	objectiveIDs := make(map[string]bool, len(rm.Objectives))
	for i, o := range rm.Objectives {
		path := fmt.Sprintf("objectives[%d]", i)
		switch {
		case o.ID == "":
			is.add(path+".id", "required")
		case objectiveIDs[o.ID]:
			is.add(path+".id", "duplicate objective id %q", o.ID)
		}
		objectiveIDs[o.ID] = true
		if strings.TrimSpace(o.Text) == "" {
			is.add(path+".text", "required")
		}
		if !o.Priority.IsValid() {
			is.add(path+".priority", "must be high, medium or low, got %q", o.Priority)
		}
	}

	taskIDs := make(map[string]bool, len(rm.Tasks))
	for i, t := range rm.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		switch {
		case t.ID == "":
			is.add(path+".id", "required")
		case taskIDs[t.ID]:
			is.add(path+".id", "duplicate task id %q", t.ID)
		}
		taskIDs[t.ID] = true
		validateTaskFields(&is, path, t)
	}

	for i, t := range rm.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if t.ObjectiveID != "" && !objectiveIDs[t.ObjectiveID] {
			is.add(path+".objectiveId", "unknown objective %q", t.ObjectiveID)
		}
		for j, dep := range t.DependsOn {
			if !taskIDs[dep] {
				is.add(fmt.Sprintf("%s.dependsOn[%d]", path, j), "unknown task %q", dep)
			}
		}
	}

	if rm.Planning != nil {
		validatePlanning(&is, rm.Planning, rm.Tasks, taskIDs)
	}

	return is.err()
}

func validateTaskFields(is *issues, path string, t Task) {
	if strings.TrimSpace(t.Title) == "" {
		is.add(path+".title", "required")
	}
	if t.ObjectiveID == "" {
		is.add(path+".objectiveId", "required")
	}
	if t.Status != "" && !t.Status.IsValid() {
		is.add(path+".status", "must be backlog, doing or done, got %q", t.Status)
	}
	if !t.Estimate.IsValid() {
		is.add(path+".estimate", "must be S, M or L, got %q", t.Estimate)
	}
	if !t.Priority.IsValid() {
		is.add(path+".priority", "must be high, medium or low, got %q", t.Priority)
	}
}

// slotKey orders planning slots: day first, AM before PM.
type slotKey struct {
	day time.Time
	pm  bool
}

func (k slotKey) after(o slotKey) bool {
	if !k.day.Equal(o.day) {
		return k.day.After(o.day)
	}
	return k.pm && !o.pm
}

func validatePlanning(is *issues, p *Planning, tasks []Task, taskIDs map[string]bool) {
	start, startErr := time.Parse(DateLayout, p.StartDate)
	if startErr != nil {
		is.add("planning.startDate", "must be a YYYY-MM-DD date, got %q", p.StartDate)
	}
	end, endErr := time.Parse(DateLayout, p.EndDate)
	if endErr != nil {
		is.add("planning.endDate", "must be a YYYY-MM-DD date, got %q", p.EndDate)
	}
	bounded := startErr == nil && endErr == nil
	if bounded && end.Before(start) {
		is.add("planning.endDate", "must not be before startDate")
		bounded = false
	}

	perDay := make(map[string]map[Slot]bool)
	keys := make([]slotKey, len(p.Slots))
	valid := make([]bool, len(p.Slots))

	for i, s := range p.Slots {
		path := fmt.Sprintf("planning.slots[%d]", i)
		ok := true
		if !taskIDs[s.TaskID] {
			is.add(path+".taskId", "unknown task %q", s.TaskID)
			ok = false
		}
		day, err := time.Parse(DateLayout, s.Day)
		if err != nil {
			is.add(path+".day", "must be a YYYY-MM-DD date, got %q", s.Day)
			ok = false
		} else if bounded && (day.Before(start) || day.After(end)) {
			is.add(path+".day", "%s is outside %s..%s", s.Day, p.StartDate, p.EndDate)
		}
		if !s.Slot.IsValid() {
			is.add(path+".slot", "must be AM or PM, got %q", s.Slot)
			ok = false
		}
		if ok {
			if perDay[s.Day] == nil {
				perDay[s.Day] = make(map[Slot]bool)
			}
			if perDay[s.Day][s.Slot] {
				is.add(path, "%s %s is already taken", s.Day, s.Slot)
			}
			perDay[s.Day][s.Slot] = true
		}
		keys[i] = slotKey{day: day, pm: s.Slot == SlotPM}
		valid[i] = ok
	}

	// Latest slot of each scheduled task.
	latest := make(map[string]slotKey)
	for i, s := range p.Slots {
		if !valid[i] {
			continue
		}
		if cur, seen := latest[s.TaskID]; !seen || keys[i].after(cur) {
			latest[s.TaskID] = keys[i]
		}
	}

	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.DependsOn
	}

	for i, s := range p.Slots {
		if !valid[i] {
			continue
		}
		for _, dep := range deps[s.TaskID] {
			depLatest, scheduled := latest[dep]
			if scheduled && !keys[i].after(depLatest) {
				is.add(fmt.Sprintf("planning.slots[%d]", i),
					"task %q is scheduled on %s %s, not after its dependency %q", s.TaskID, s.Day, s.Slot, dep)
			}
		}
	}
}
