package prompts

import "github.com/c360studio/braindump/llm"

// RevisionSchemaDescription is the shape of a revision answer.
const RevisionSchemaDescription = `{
  "revisedRoadmap": [
    {
      "id": "task-1",
      "title": "string",
      "objectiveId": "obj-1",
      "taskStatus": "backlog | doing | done",
      "estimate": "S | M | L",
      "priority": "high | medium | low",
      "dependsOn": ["task-id"],
      "status": "unchanged | modified | removed | added"
    }
  ],
  "changesSummary": {
    "itemsModified": 0,
    "itemsAdded": 0,
    "itemsRemoved": 0,
    "confidenceScore": 0.85
  }
}`

const reviseSystem = `You revise project roadmaps based on user feedback.

## Rules

- Apply the revision instruction to the tasks of the current roadmap.
- List every task of the current roadmap plus any new ones in "revisedRoadmap".
- Tag each task with "status": "unchanged", "modified", "removed" or "added".
- Keep ids of existing tasks. New tasks get new unique ids ("task-N").
- Every task has a "dependsOn" array (empty if no dependencies).
- dependsOn ids must reference tasks that are not removed.
- objectiveId must reference an objective of the current roadmap.
- Never introduce circular dependencies.
- Keep the language of the current roadmap.
- "changesSummary" counts must match the status tags. confidenceScore is between 0.0 and 1.0.

## Output Format

Return ONLY valid JSON. No markdown fences, no explanation.

` + RevisionSchemaDescription

// Revise builds the prompt applying instruction to the serialized roadmap.
func Revise(currentRoadmapJSON, instruction string) llm.Prompt {
	user := "Revise the roadmap in the \"roadmap\" field using the \"instruction\" field.\n" +
		untrustedNotice + "\n\n" +
		fence("input_json", map[string]string{
			"roadmap":     currentRoadmapJSON,
			"instruction": instruction,
		})

	return llm.Prompt{System: reviseSystem, User: user}
}
