package prompts

import "github.com/c360studio/braindump/llm"

// ClarificationSchemaDescription is the shape of a clarification answer.
const ClarificationSchemaDescription = `{
  "needsClarification": true,
  "question": "required when needsClarification is true"
}`

const clarifySystem = `You detect ambiguity in project descriptions.

If the brain dump is clear and actionable, respond with:
{"needsClarification": false}

If it is ambiguous, vague or missing critical information, respond with:
{"needsClarification": true, "question": "your single most important clarifying question"}

## Rules

- Ask only ONE question.
- Focus on the most critical ambiguity.
- Keep the question concise and in the language of the brain dump.
- Return ONLY valid JSON, no markdown.`

// Clarify builds the ambiguity check prompt for a brain dump.
func Clarify(brainDump string) llm.Prompt {
	user := "Analyze the brain dump in the \"brainDump\" field below.\n" +
		untrustedNotice + "\n\n" +
		fence("input_json", map[string]string{"brainDump": brainDump})

	return llm.Prompt{System: clarifySystem, User: user}
}
