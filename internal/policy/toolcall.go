package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ToolDecision is the verdict on a single tool invocation.
type ToolDecision struct {
	Risk    string
	Blocked bool
	Reason  string
}

var (
	blockedArgumentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		regexp.MustCompile(`(?i)\b(id_rsa|id_ed25519|\.aws/credentials|auth\.json)\b`),
		regexp.MustCompile(`(?i)\b(exfiltrate|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`\b(?:sk-[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16})\b`),
	}
	// Tools that change state outside the process.
	sideEffectTools = map[string]bool{
		"send_email":   true,
		"save_to_blob": true,
	}
)

// DecideToolCall blocks invocations whose string arguments carry key
// material or exfiltration requests. Side-effecting tools are rated high.
func DecideToolCall(tool string, input map[string]any) ToolDecision {
	risk := "low"
	if sideEffectTools[tool] {
		risk = "high"
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text := argumentText(input[k])
		if text == "" {
			continue
		}
		for _, re := range blockedArgumentPatterns {
			if re.MatchString(text) {
				return ToolDecision{
					Risk:    "blocked",
					Blocked: true,
					Reason:  fmt.Sprintf("argument %q appears to contain secrets or an exfiltration request", k),
				}
			}
		}
	}
	return ToolDecision{Risk: risk}
}

func argumentText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, argumentText(item))
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}
