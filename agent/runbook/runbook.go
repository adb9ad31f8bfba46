// Package runbook parses, validates, renders and stores agent runbooks.
//
// A runbook is a markdown document describing one agent: its job title, role,
// capabilities and a few free-form sections. Sections are level-two headings;
// a section's body runs until the next level-two heading.
package runbook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// ErrNotFound is returned when no runbook exists for an agent.
var ErrNotFound = errors.New("runbook not found")

const (
	defaultJobTitle = "AI Agent"
	defaultRole     = "No role description provided"
)

// Runbook is the parsed form of an agent's markdown runbook.
type Runbook struct {
	AgentName             string             `json:"agent_name"`
	JobTitle              string             `json:"job_title"`
	Role                  string             `json:"role"`
	Capabilities          []types.Capability `json:"capabilities"`
	CollaborationPatterns []string           `json:"collaboration_patterns"`
	Dependencies          []string           `json:"dependencies"`
	SystemInstructions    string             `json:"system_prompt_instructions,omitempty"`
}

// CapabilityNames returns the declared capability names in order.
func (r *Runbook) CapabilityNames() []string {
	names := make([]string, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// CapabilityText renders capabilities as "- name: description" lines for prompts.
func (r *Runbook) CapabilityText() string {
	if len(r.Capabilities) == 0 {
		return "- General assistance"
	}
	var b strings.Builder
	for i, c := range r.Capabilities {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
	}
	return b.String()
}

// Parse extracts a Runbook from markdown. Parsing never fails; missing
// sections fall back to defaults and can be reported by Validate.
func Parse(agentName, markdown string) *Runbook {
	sections := splitSections(markdown)

	rb := &Runbook{
		AgentName:             agentName,
		JobTitle:              defaultJobTitle,
		Role:                  defaultRole,
		Capabilities:          []types.Capability{},
		CollaborationPatterns: []string{},
		Dependencies:          []string{},
	}
	if s, ok := sections.get("Job Title"); ok {
		rb.JobTitle = s
	}
	if s, ok := sections.get("Role"); ok {
		rb.Role = s
	}
	if s, ok := sections.first("Capabilities", "Core Capabilities"); ok {
		if caps := parseCapabilities(s); len(caps) > 0 {
			rb.Capabilities = caps
		}
	}
	if s, ok := sections.get("Collaboration Patterns"); ok {
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); strings.HasPrefix(line, "- ") {
				rb.CollaborationPatterns = append(rb.CollaborationPatterns, strings.TrimSpace(line[2:]))
			}
		}
	}
	if s, ok := sections.get("Dependencies"); ok {
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "- "):
				rb.Dependencies = append(rb.Dependencies, strings.TrimSpace(line[2:]))
			case line != "" && !strings.HasPrefix(line, "#"):
				rb.Dependencies = append(rb.Dependencies, line)
			}
		}
	}
	if s, ok := sections.get("System Prompt Instructions"); ok {
		rb.SystemInstructions = s
	}
	return rb
}

// Validate returns human-readable problems with rb; nil means valid.
func Validate(rb *Runbook) []string {
	var problems []string
	if rb.Role == "" || rb.Role == defaultRole {
		problems = append(problems, "Missing or empty role description")
	}
	if len(rb.Capabilities) == 0 {
		problems = append(problems, "No capabilities defined")
	}
	for _, c := range rb.Capabilities {
		if c.Name == "" {
			problems = append(problems, "Capability missing name")
		}
		if c.Description == "" {
			problems = append(problems, fmt.Sprintf("Capability '%s' missing description", c.Name))
		}
	}
	return problems
}

// sections maps level-two heading titles to their trimmed bodies, with the
// order of first appearance kept for alternatives.
type sections struct {
	order  []string
	bodies map[string]string
}

func splitSections(markdown string) sections {
	s := sections{bodies: make(map[string]string)}
	var (
		title string
		body  []string
		open  bool
	)
	flush := func() {
		if !open {
			return
		}
		if _, dup := s.bodies[title]; !dup {
			s.order = append(s.order, title)
			s.bodies[title] = strings.TrimSpace(strings.Join(body, "\n"))
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "##" || strings.HasPrefix(trimmed, "## ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
			body = body[:0]
			open = true
			continue
		}
		if open {
			body = append(body, line)
		}
	}
	flush()
	return s
}

func (s sections) get(title string) (string, bool) {
	for _, t := range s.order {
		if strings.EqualFold(t, title) {
			return s.bodies[t], true
		}
	}
	return "", false
}

// first returns the earliest section whose title matches any of titles.
func (s sections) first(titles ...string) (string, bool) {
	for _, t := range s.order {
		for _, want := range titles {
			if strings.EqualFold(t, want) {
				return s.bodies[t], true
			}
		}
	}
	return "", false
}

func parseCapabilities(body string) []types.Capability {
	if strings.HasPrefix(body, "###") || strings.Contains(body, "\n###") {
		return parseBlockCapabilities(body)
	}
	return parseBulletCapabilities(body)
}

// parseBulletCapabilities reads "- Name" lines followed by indented
// "  - description" lines.
func parseBulletCapabilities(body string) []types.Capability {
	var (
		caps []types.Capability
		cur  *types.Capability
		desc []string
	)
	emit := func() {
		if cur == nil {
			return
		}
		cur.Description = strings.TrimSpace(strings.Join(desc, " "))
		caps = append(caps, *cur)
	}
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "- "):
			emit()
			name := strings.TrimSpace(line[2:])
			cur = &types.Capability{
				Name:       name,
				Parameters: map[string]string{},
				Tags:       []string{types.NormalizeName(name)},
			}
			desc = desc[:0]
		case strings.HasPrefix(line, "  - ") && cur != nil:
			desc = append(desc, strings.TrimSpace(strings.TrimSpace(line)[2:]))
		}
	}
	emit()
	return caps
}

// parseBlockCapabilities reads "### Name" blocks with bold-labelled fields.
func parseBlockCapabilities(body string) []types.Capability {
	var caps []types.Capability
	blocks := strings.Split(body, "###")
	for _, block := range blocks[1:] {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		name := strings.TrimSpace(lines[0])
		if name == "" {
			continue
		}
		c := types.Capability{Name: name, Parameters: map[string]string{}, Tags: []string{}}
		for i := 1; i < len(lines); i++ {
			line := strings.TrimSpace(lines[i])
			switch {
			case strings.HasPrefix(line, "- **Description**:"):
				c.Description = strings.TrimSpace(strings.TrimPrefix(line, "- **Description**:"))
			case strings.HasPrefix(line, "- **Parameters**:"):
				for i+1 < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i+1]), "- **") {
					i++
					param := strings.TrimPrefix(strings.TrimSpace(lines[i]), "- ")
					if k, v, ok := strings.Cut(param, ":"); ok {
						c.Parameters[strings.TrimSpace(k)] = strings.TrimSpace(v)
					}
				}
			case strings.HasPrefix(line, "- **Example Usage**:"):
				c.ExampleUsage = strings.TrimSpace(strings.TrimPrefix(line, "- **Example Usage**:"))
			case strings.HasPrefix(line, "- **Tags**:"):
				if raw := strings.TrimSpace(strings.TrimPrefix(line, "- **Tags**:")); raw != "" {
					for _, tag := range strings.Split(raw, ",") {
						c.Tags = append(c.Tags, strings.TrimSpace(tag))
					}
				}
			}
		}
		caps = append(caps, c)
	}
	return caps
}
