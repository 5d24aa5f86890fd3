package prompts

import (
	"strings"

	"github.com/c360studio/braindump/llm"
)

// RoadmapSchemaDescription shows the model the roadmap shape it must return.
const RoadmapSchemaDescription = `{
  "projectId": "",
  "title": "concise project title derived from the brain dump",
  "createdAt": "ISO 8601 timestamp",
  "brainDump": "the original input text",
  "objectives": [
    {
      "id": "obj-1",
      "text": "Clear, actionable objective",
      "priority": "high | medium | low"
    }
  ],
  "tasks": [
    {
      "id": "task-1",
      "title": "Atomic task description",
      "objectiveId": "obj-1",
      "status": "backlog",
      "estimate": "S | M | L",
      "priority": "high | medium | low",
      "dependsOn": []
    }
  ],
  "revisionHistory": []
}`

// PlanningSchemaDescription is the optional planning field.
const PlanningSchemaDescription = `"planning": {
  "startDate": "YYYY-MM-DD",
  "endDate": "YYYY-MM-DD",
  "slots": [
    {
      "taskId": "task-1",
      "day": "YYYY-MM-DD",
      "slot": "AM | PM",
      "done": false
    }
  ]
}`

const structureSystemBase = `You are an expert project manager. Transform a chaotic brain dump into a clean, structured roadmap.

## Rules

1. Detect the language of the brain dump. Write ALL content (title, objectives, tasks) in that same language.
2. Identify distinct, actionable objectives.
3. Break each objective into atomic tasks (1 action = 1 task).
4. Assign priorities (high/medium/low) based on urgency and importance.
5. Set every task status to "backlog".
6. Assign realistic estimates: S (< 1h), M (1-4h), L (> 4h).
7. Only add dependsOn when a clear prerequisite relationship exists. If unsure, use an empty array.
8. Use unique ids: "obj-1", "obj-2" for objectives and "task-1", "task-2" for tasks.
9. Leave projectId as an empty string. It is assigned by the server.
10. Set createdAt to the current ISO 8601 timestamp.

## Output Format

Return ONLY valid JSON. No markdown fences, no explanation, no text before or after the JSON.`

const planningClause = `

## Planning

Also include a "planning" field:
- Distribute tasks across realistic days using AM and PM slots.
- Start from tomorrow. Each day has at most 2 slots (AM and PM).
- A task must be scheduled strictly after every slot of the tasks it depends on.
- Set every "done" field to false.

` + PlanningSchemaDescription

// Structure builds the prompt turning a brain dump into a roadmap.
func Structure(brainDump string, includePlanning bool) llm.Prompt {
	var system strings.Builder
	system.WriteString(structureSystemBase)
	if includePlanning {
		system.WriteString(planningClause)
	}
	system.WriteString("\n\n## JSON Schema\n\n")
	system.WriteString(RoadmapSchemaDescription)
	if includePlanning {
		system.WriteString("\n\nAdd the planning field described above at the top level.")
	}

	user := "Structure the brain dump in the \"brainDump\" field below.\n" +
		untrustedNotice + "\n\n" +
		fence("input_json", map[string]string{"brainDump": brainDump})

	return llm.Prompt{System: system.String(), User: user}
}
