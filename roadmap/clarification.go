package roadmap

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Clarification tells whether a brain dump needs a follow-up question.
type Clarification struct {
	NeedsClarification bool   `json:"needsClarification"`
	Question           string `json:"question,omitempty"`
}

// DecodeClarification parses a clarification answer.
// A question is required when clarification is needed.
func DecodeClarification(raw []byte) (*Clarification, error) {
	var wire struct {
		NeedsClarification *bool  `json:"needsClarification"`
		Question           string `json:"question"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &SchemaValidationError{Issues: []Issue{{Message: fmt.Sprintf("invalid JSON document: %v", err)}}}
	}

	var is issues
	if wire.NeedsClarification == nil {
		is.add("needsClarification", "required")
	} else if *wire.NeedsClarification && strings.TrimSpace(wire.Question) == "" {
		is.add("question", "required when needsClarification is true")
	}
	if err := is.err(); err != nil {
		return nil, err
	}

	c := &Clarification{NeedsClarification: *wire.NeedsClarification}
	if c.NeedsClarification {
		c.Question = strings.TrimSpace(wire.Question)
	}
	return c, nil
}
