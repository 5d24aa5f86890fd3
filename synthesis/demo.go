package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360studio/braindump/llm"
	"github.com/c360studio/braindump/model"
	"github.com/c360studio/braindump/roadmap"
)

// DemoModel is reported as the model name of demo answers.
const DemoModel = "demo"

// DemoCompleter answers every capability with canned, valid content so the
// whole pipeline can run without a model provider.
type DemoCompleter struct {
	// Delay simulates model latency.
	Delay time.Duration

	// Now dates the demo planning. Defaults to time.Now.
	Now func() time.Time
}

// Complete implements llm.Completer.
func (d DemoCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if d.Delay > 0 {
		timer := time.NewTimer(d.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var (
		body any
		err  error
	)
	switch model.Capability(req.Capability) {
	case model.CapabilityRevising:
		body, err = demoRevision(req)
	case model.CapabilityClarifying:
		body = roadmap.Clarification{NeedsClarification: false}
	default:
		body = d.demoRoadmap(req)
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal demo answer: %w", err)
	}
	return &llm.Response{Content: string(data), Model: DemoModel, FinishReason: "stop"}, nil
}

func (d DemoCompleter) demoRoadmap(req llm.Request) *roadmap.Roadmap {
	rm := &roadmap.Roadmap{
		Title: "Launch the app",
		Objectives: []roadmap.Objective{
			{ID: "obj-1", Text: "Ship authentication", Priority: roadmap.PriorityHigh},
			{ID: "obj-2", Text: "Ship the activity feed", Priority: roadmap.PriorityMedium},
		},
		Tasks: []roadmap.Task{
			{ID: "task-1", Title: "Design the login flow", ObjectiveID: "obj-1", Status: roadmap.StatusBacklog, Estimate: roadmap.EstimateS, Priority: roadmap.PriorityHigh, DependsOn: []string{}},
			{ID: "task-2", Title: "Implement authentication API", ObjectiveID: "obj-1", Status: roadmap.StatusBacklog, Estimate: roadmap.EstimateL, Priority: roadmap.PriorityHigh, DependsOn: []string{"task-1"}},
			{ID: "task-3", Title: "Build the feed", ObjectiveID: "obj-2", Status: roadmap.StatusBacklog, Estimate: roadmap.EstimateL, Priority: roadmap.PriorityMedium, DependsOn: []string{"task-2"}},
		},
		RevisionHistory: []roadmap.RevisionEntry{},
	}

	if wantsPlanning(req) {
		now := time.Now
		if d.Now != nil {
			now = d.Now
		}
		day := func(offset int) string {
			return now().AddDate(0, 0, offset).Format(roadmap.DateLayout)
		}
		rm.Planning = &roadmap.Planning{
			StartDate: day(1),
			EndDate:   day(2),
			Slots: []roadmap.PlanningSlot{
				{TaskID: "task-1", Day: day(1), Slot: roadmap.SlotAM},
				{TaskID: "task-2", Day: day(1), Slot: roadmap.SlotPM},
				{TaskID: "task-3", Day: day(2), Slot: roadmap.SlotAM},
			},
		}
	}
	return rm
}

func wantsPlanning(req llm.Request) bool {
	for _, m := range req.Messages {
		if m.Role == "system" && strings.Contains(m.Content, "## Planning") {
			return true
		}
	}
	return false
}

var revisePayload = regexp.MustCompile(`(?s)<input_json>\n(.*)\n</input_json>`)

// demoRevision keeps every task and adds a review task depending on the last one.
func demoRevision(req llm.Request) (*roadmap.Revision, error) {
	var current *roadmap.Roadmap
	for _, m := range req.Messages {
		match := revisePayload.FindStringSubmatch(m.Content)
		if m.Role != "user" || match == nil {
			continue
		}
		var payload struct {
			Roadmap string `json:"roadmap"`
		}
		if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
			return nil, fmt.Errorf("decode revise payload: %w", err)
		}
		current = &roadmap.Roadmap{}
		if err := json.Unmarshal([]byte(payload.Roadmap), current); err != nil {
			return nil, fmt.Errorf("decode roadmap: %w", err)
		}
	}
	if current == nil || len(current.Objectives) == 0 {
		return nil, fmt.Errorf("demo revision needs a roadmap with objectives")
	}

	rev := &roadmap.Revision{ChangesSummary: &roadmap.ChangesSummary{ItemsAdded: 1, ConfidenceScore: 0.9}}
	ids := make(map[string]bool, len(current.Tasks))
	for _, t := range current.Tasks {
		ids[t.ID] = true
		rev.RevisedRoadmap = append(rev.RevisedRoadmap, roadmap.RevisedTask{
			ID: t.ID, Title: t.Title, ObjectiveID: t.ObjectiveID, TaskStatus: t.Status,
			Estimate: t.Estimate, Priority: t.Priority, DependsOn: t.DependsOn,
			Change: roadmap.ChangeUnchanged,
		})
	}

	review := roadmap.RevisedTask{
		Title:       "Review the roadmap with the team",
		ObjectiveID: current.Objectives[0].ID,
		Estimate:    roadmap.EstimateS,
		Priority:    roadmap.PriorityMedium,
		DependsOn:   []string{},
		Change:      roadmap.ChangeAdded,
	}
	for n := len(current.Tasks) + 1; ; n++ {
		if id := fmt.Sprintf("task-%d", n); !ids[id] {
			review.ID = id
			break
		}
	}
	if len(current.Tasks) > 0 {
		review.DependsOn = []string{current.Tasks[len(current.Tasks)-1].ID}
	}
	rev.RevisedRoadmap = append(rev.RevisedRoadmap, review)
	return rev, nil
}
