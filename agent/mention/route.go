package mention

import "strings"

// Route says which agents a user message goes to and what text they get.
type Route struct {
	Targets []string
	Text    string
}

// RouteUserMessage decides the recipients of a message typed by the user.
//
//   - If the first accepted mention is the coordinator, only the coordinator
//     receives it, with that first mention removed and any other mentions kept
//     so it can delegate.
//   - Otherwise every mentioned agent receives the cleaned text.
//   - With no mentions the coordinator receives the text unchanged.
func RouteUserMessage(text string, names Names, coordinator string) Route {
	res := Extract(text, names)
	if len(res.Agents) == 0 {
		return Route{Targets: []string{coordinator}, Text: text}
	}
	if res.Agents[0] == strings.ToLower(coordinator) {
		cleaned := stripFirst(text, coordinator)
		return Route{Targets: []string{strings.ToLower(coordinator)}, Text: strings.TrimSpace(cleaned)}
	}
	return Route{Targets: res.Agents, Text: res.Text}
}

func stripFirst(text, name string) string {
	for _, tok := range scan(text) {
		if strings.EqualFold(tok.name, name) {
			return strip(text, []token{tok})
		}
	}
	return text
}

// SplitPerAgent splits an agent's outgoing text into per-recipient content.
// Lines that mention one or more registered agents go only to those agents,
// with the mentions stripped. Lines without any mention go to every agent
// mentioned anywhere in the text. Agents whose share is empty are omitted.
func SplitPerAgent(text string, names Names) map[string]string {
	mentioned := Extract(text, names).Agents
	if len(mentioned) == 0 {
		return map[string]string{}
	}

	parts := make(map[string][]string, len(mentioned))
	for _, line := range strings.Split(text, "\n") {
		res := Extract(line, names)
		if len(res.Agents) == 0 {
			if strings.TrimSpace(line) == "" {
				continue
			}
			for _, a := range mentioned {
				parts[a] = append(parts[a], strings.TrimSpace(line))
			}
			continue
		}
		if res.Text == "" {
			continue
		}
		for _, a := range res.Agents {
			parts[a] = append(parts[a], res.Text)
		}
	}

	out := make(map[string]string, len(parts))
	for a, lines := range parts {
		if joined := strings.TrimSpace(strings.Join(lines, "\n")); joined != "" {
			out[a] = joined
		}
	}
	return out
}
