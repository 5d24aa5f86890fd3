package prompts

import "github.com/c360studio/braindump/llm"

const retrySystem = `You are a JSON correction assistant. The previous JSON output failed schema validation.
Fix the JSON so it satisfies the validation errors and keeps the same schema.
Return ONLY the corrected JSON object. No explanation.`

// Retry builds the corrective prompt from a rejected output and the
// validation error that rejected it. Both are fenced as data.
func Retry(previousOutput string, validationErr error) llm.Prompt {
	msg := ""
	if validationErr != nil {
		msg = validationErr.Error()
	}

	user := "Fix the previous output using the validation error.\n" +
		untrustedNotice + "\n\n" +
		fence("previous_output", map[string]string{"output": previousOutput}) + "\n\n" +
		fence("validation_error", map[string]string{"error": msg}) + "\n\n" +
		"Return the corrected JSON object."

	return llm.Prompt{System: retrySystem, User: user}
}

// WithSchema returns a correction function that reminds the model of schema.
// The result plugs into llm.Job.Correct.
func WithSchema(schema string) llm.CorrectionFunc {
	return func(previousOutput string, validationErr error) llm.Prompt {
		p := Retry(previousOutput, validationErr)
		if schema != "" {
			p.System += "\n\n## Required Schema\n\n" + schema
		}
		return p
	}
}
