package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// Extraction classifies a model response body. It is either RawJSON or
// EnvelopedText; Classify is the only place that decides which.
type Extraction interface {
	// Payload returns the text that should contain the JSON document.
	Payload() string
	isExtraction()
}

// RawJSON is a response body that is not wrapped in a known envelope.
type RawJSON struct {
	Body string
}

// Payload returns the body unchanged.
func (r RawJSON) Payload() string { return r.Body }
func (RawJSON) isExtraction() {}

// EnvelopedText is a response whose useful text sits inside an envelope,
// either {"outputs":[{"text":...}]} or {"choices":[{"message":{"content":...}}]}.
type EnvelopedText struct {
	Text string
	// Shape names the envelope that was unwrapped ("outputs" or "choices").
	Shape string
}

// Payload returns the unwrapped text.
func (e EnvelopedText) Payload() string { return e.Text }
func (EnvelopedText) isExtraction() {}

// Envelope shapes.
const (
	ShapeOutputs = "outputs"
	ShapeChoices = "choices"
)

type envelope struct {
	Outputs []struct {
		Text *string `json:"text"`
	} `json:"outputs"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify decides whether body is enveloped and unwraps it when it is.
func Classify(body string) Extraction {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return RawJSON{Body: body}
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return RawJSON{Body: body}
	}
	if len(env.Outputs) > 0 && env.Outputs[0].Text != nil {
		return EnvelopedText{Text: *env.Outputs[0].Text, Shape: ShapeOutputs}
	}
	if len(env.Choices) > 0 && env.Choices[0].Message.Content != nil {
		return EnvelopedText{Text: *env.Choices[0].Message.Content, Shape: ShapeChoices}
	}
	return RawJSON{Body: body}
}

var errNoJSON = errors.New("no JSON object found")

// Extract returns the JSON document carried by body.
// Enveloped text is unwrapped first and the envelope itself is never
// returned as the answer. Free-form text is searched for a fenced or
// brace-delimited object. Fails with *ModelParseError when nothing
// syntactically valid is found.
func Extract(body string) (string, error) {
	ext := Classify(body)

	candidate := strings.TrimSpace(ext.Payload())
	if candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if found := ExtractJSON(candidate); found != "" {
		if json.Valid([]byte(found)) {
			return found, nil
		}
		return "", &ModelParseError{Preview: preview(candidate, 200), Err: errors.New("extracted object is not valid JSON")}
	}

	return "", &ModelParseError{Preview: preview(candidate, 200), Err: errNoJSON}
}
