package session

import (
	"strings"
	"time"
)

// Key identifies one conversation. Session ids are unique per agent.
type Key struct {
	Agent   string `json:"agent"`
	Session string `json:"session_id"`
}

// Turn is one user input and the agent output that answered it.
type Turn struct {
	UserInput   string    `json:"user_input"`
	AgentOutput string    `json:"agent_output"`
	At          time.Time `json:"at"`
}

// EvictReason says why a buffer left the map.
type EvictReason string

const (
	EvictIdle     EvictReason = "idle"
	EvictCapacity EvictReason = "capacity"
	EvictForget   EvictReason = "forget"
)

// Format renders turns oldest first as "User: ..." / "Agent: ..." lines.
func Format(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("User: ")
		b.WriteString(t.UserInput)
		b.WriteString("\nAgent: ")
		b.WriteString(t.AgentOutput)
	}
	return b.String()
}
