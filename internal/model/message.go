package model

import "strings"

// Conversation roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatHistory renders messages as "Role: content" lines.
func FormatHistory(history []Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
