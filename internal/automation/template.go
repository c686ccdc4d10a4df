package automation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TemplateContext carries the contextual values available to action value
// templates for one rule firing.
type TemplateContext struct {
	SessionName string
	AgentName   string
	Timestamp   time.Time
	MatchedText string
	Captures    []string // numbered groups $1..$n
}

// templateToken matches {name} and {$N} placeholders.
var templateToken = regexp.MustCompile(`\{(\$\d+|[a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Interpolate substitutes template tokens in an action value. Supported
// tokens: {session}, {agent}, {timestamp}, {match}/{$0}, and {$1}..{$n} for
// regex capture groups. Unknown names and out-of-range indices resolve to the
// empty string; interpolation never fails. Shell escaping is deliberately not
// done here; action types that reach a shell handle their own quoting.
func Interpolate(value string, ctx TemplateContext) string {
	if !strings.Contains(value, "{") {
		return value
	}
	return templateToken.ReplaceAllStringFunc(value, func(token string) string {
		name := token[1 : len(token)-1]
		if name[0] == '$' {
			idx, err := strconv.Atoi(name[1:])
			if err != nil {
				return ""
			}
			if idx == 0 {
				return ctx.MatchedText
			}
			if idx >= 1 && idx <= len(ctx.Captures) {
				return ctx.Captures[idx-1]
			}
			return ""
		}
		switch name {
		case "session":
			return ctx.SessionName
		case "agent":
			return ctx.AgentName
		case "timestamp":
			return ctx.Timestamp.UTC().Format(time.RFC3339)
		case "match":
			return ctx.MatchedText
		default:
			return ""
		}
	})
}

// DeriveAgentName derives a short agent name from a tmux session name by
// stripping the managed-session prefix and any trailing numeric suffix, e.g.
// "jat_nova_2" -> "nova".
func DeriveAgentName(sessionName string) string {
	name := strings.TrimPrefix(sessionName, "jat_")
	if i := strings.LastIndex(name, "_"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			name = name[:i]
		}
	}
	return name
}
