package runbook

import (
	"strings"
	"unicode"
)

// CapabilitySpec is the minimal capability description used to generate a runbook.
type CapabilitySpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Generate renders a new runbook for an agent created at runtime.
func Generate(name, role string, caps []CapabilitySpec) string {
	var capLines strings.Builder
	for _, c := range caps {
		capName := c.Name
		if capName == "" {
			capName = "Task execution"
		}
		capLines.WriteString("- " + capName + "\n")
		if c.Description != "" {
			capLines.WriteString("  - " + c.Description + "\n")
		}
	}

	var b strings.Builder
	b.WriteString("# " + titleCase(name) + " Agent Runbook\n\n")
	b.WriteString("## Job Title\n" + JobTitleFromRole(role) + "\n\n")
	b.WriteString("## Role\n" + role + "\n\n")
	b.WriteString("## Core Capabilities\n" + capLines.String() + "\n")
	b.WriteString(`## Key Principles
- Execute tasks based on your defined capabilities
- Provide helpful and accurate responses
- Work collaboratively with other agents when needed
- Maintain focus on your specialized role

## Task Assessment
Handle requests that align with your capabilities:
- Accept tasks within your defined role
- Decline tasks outside your scope
- Seek clarification when needed
- Provide clear, actionable results

## Available Tools
Use your capabilities to complete assigned tasks effectively.
`)
	return b.String()
}

// JobTitleFromRole takes the first sentence of role, or the whole role when
// that sentence is longer than 50 characters.
func JobTitleFromRole(role string) string {
	title, _, _ := strings.Cut(role, ".")
	title = strings.TrimSpace(title)
	if len([]rune(title)) > 50 {
		return role
	}
	return title
}

// titleCase upper-cases every letter that follows a non-letter.
func titleCase(s string) string {
	out := []rune(s)
	prevLetter := false
	for i, r := range out {
		if unicode.IsLetter(r) {
			if !prevLetter {
				out[i] = unicode.ToUpper(r)
			} else {
				out[i] = unicode.ToLower(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
	}
	return string(out)
}
