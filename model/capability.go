// Package model provides capability-based model selection.
// Callers ask for a capability (structuring, revising, clarifying) and the
// registry resolves it to configured endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityStructuring turns a brain dump into a full roadmap.
	CapabilityStructuring Capability = "structuring"

	// CapabilityRevising applies a natural-language instruction to a roadmap.
	CapabilityRevising Capability = "revising"

	// CapabilityClarifying decides whether a brain dump needs a follow-up question.
	CapabilityClarifying Capability = "clarifying"

	// CapabilityFast is for quick responses and unknown capabilities.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityStructuring, CapabilityRevising, CapabilityClarifying, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
